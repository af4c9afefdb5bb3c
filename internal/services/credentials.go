package services

import (
	"context"
	"errors"
	"strings"

	"github.com/Tiann-Paete/Nars-web/internal/platform/requestctx"
)

// ErrCredentialMissing indicates no bearer credential is available for the order call.
var ErrCredentialMissing = errors.New("checkout: credential missing")

// StaticCredential always returns the same credential.
type StaticCredential string

// Credential implements CredentialProvider.
func (s StaticCredential) Credential(context.Context) (string, error) {
	value := strings.TrimSpace(string(s))
	if value == "" {
		return "", ErrCredentialMissing
	}
	return value, nil
}

// ContextCredential reads the credential the HTTP layer stored on the request context,
// falling back to Fallback when the request carried none.
type ContextCredential struct {
	Fallback string
}

// Credential implements CredentialProvider.
func (c ContextCredential) Credential(ctx context.Context) (string, error) {
	if value, ok := requestctx.Credential(ctx); ok {
		return value, nil
	}
	return StaticCredential(c.Fallback).Credential(ctx)
}
