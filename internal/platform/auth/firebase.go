package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

type firebaseTokenClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens. Custom claims set on the Firebase user carry the numeric
// user id and role.
type FirebaseVerifier struct {
	client  firebaseTokenClient
	timeout time.Duration
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithFirebaseClient injects a token client, bypassing Admin SDK initialisation.
func WithFirebaseClient(client firebaseTokenClient) FirebaseOption {
	return func(v *FirebaseVerifier) {
		v.client = client
	}
}

// NewFirebaseVerifier constructs a FirebaseVerifier backed by the Admin SDK.
func NewFirebaseVerifier(ctx context.Context, projectID string, clientOpts []option.ClientOption, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	verifier := &FirebaseVerifier{timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	if verifier.client != nil {
		return verifier, nil
	}

	if projectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	verifier.client = authClient
	return verifier, nil
}

// Verify forwards verification to the Firebase client and exposes the token claims, with sub set to the UID.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (Claims, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		switch {
		case firebaseauth.IsIDTokenExpired(err):
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}

	claims := make(Claims, len(token.Claims)+1)
	for key, value := range token.Claims {
		claims[key] = value
	}
	claims["sub"] = token.UID
	return claims, nil
}
