package auth

import (
	"testing"
	"time"
)

func TestIssueParseRoundTrip(t *testing.T) {
	tokens, err := Issue("student-1", "student", "geoattend-agent", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, err := Parse(tokens.AccessToken, "secret", "geoattend-agent")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.StudentID != "student-1" || claims.Role != "student" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestParseRejectsWrongKeyAndIssuer(t *testing.T) {
	tokens, err := Issue("student-1", "student", "geoattend-agent", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := Parse(tokens.AccessToken, "other-secret", "geoattend-agent"); err == nil {
		t.Error("wrong signing key accepted")
	}
	if _, err := Parse(tokens.AccessToken, "secret", "someone-else"); err == nil {
		t.Error("wrong issuer accepted")
	}
}

func TestParseRejectsEmptySubject(t *testing.T) {
	tokens, err := Issue("", "student", "geoattend-agent", "secret", time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(tokens.AccessToken, "secret", "geoattend-agent"); err == nil {
		t.Error("empty-subject token accepted")
	}
}
