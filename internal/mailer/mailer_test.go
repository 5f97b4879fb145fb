package mailer

import (
	"context"
	"testing"
)

func TestDevMailer_NeverErrors(t *testing.T) {
	var m Mailer = DevMailer{}
	if err := m.SendOTP(context.Background(), "ana@x.io", 123456); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
