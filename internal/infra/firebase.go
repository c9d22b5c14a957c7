// README: Bearer token identity shared by the auth modes, plus the Firebase Admin verifier.
package infra

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// RoleClaim is the claim the HTTP layer turns into a ride role. Firebase
// carries it as a custom claim set through the Admin SDK; JWT mode signs it
// into RideClaims.
const RoleClaim = "role"

// Token is a verified caller. Claims always includes RoleClaim when the issuer
// set one; other claims pass through untouched.
type Token struct {
	UID    string
	Claims map[string]interface{}
}

// Role returns the role claim, or "" when the token has none.
func (t *Token) Role() string {
	role, _ := t.Claims[RoleClaim].(string)
	return role
}

type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Token, error)
}

// FirebaseVerifier checks Firebase ID tokens for one project.
type FirebaseVerifier struct {
	client *auth.Client
}

// NewFirebaseVerifier uses credentialsFile as a service-account key when set,
// and application-default credentials otherwise.
func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app for project %q: %w", projectID, err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Token, error) {
	verified, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("verify firebase token: %w", err)
	}
	return &Token{UID: verified.UID, Claims: verified.Claims}, nil
}
