// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

/*
Package auth issues and checks the bearer tokens that guard the control API.

Tokens are HS256 JWTs signed with JWT_SECRET. There is one role, admin;
the claim is carried so that narrower roles can be added without reissuing
the token format.

Usage:

	manager, err := auth.NewJWTManager(cfg.API.JWTSecret, 24*time.Hour)
	if err != nil {
	    return err
	}
	token, _ := manager.GenerateToken("ops", auth.RoleAdmin)

	r.Group(func(r chi.Router) {
	    r.Use(auth.NewMiddleware(manager).Authenticate)
	    // protected routes
	})
*/
package auth
