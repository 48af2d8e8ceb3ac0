package classify

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Kind
	}{
		{"invalid credentials for account", Permanent},
		{"incorrect password", Permanent},
		{"HTTP 403 Forbidden", Permanent},
		{"account suspended by operator", Permanent},
		{"element not found: #follow-btn", Permanent},
		{"copy trading UI might have changed", Permanent},
		{"net::ERR_CONNECTION_RESET", Temporary},
		{"wait timed out after 20s", Temporary},
		{"page crashed during navigation", Temporary},
		{"HTTP 503 service unavailable", Temporary},
		{"target closed unexpectedly", Temporary},
		{"something never seen before", Temporary},
	}
	for _, c := range cases {
		if got := Classify(c.text); got != c.want {
			t.Errorf("Classify(%q) = %s, want %s", c.text, got, c.want)
		}
	}
}

func TestPermanentChecksBeforeTemporary(t *testing.T) {
	// Contains both a timeout fragment and a credential fragment; the
	// credential pattern must win so the account is not retried forever.
	if got := Classify("login failed after timeout"); got != Permanent {
		t.Fatalf("got %s, want permanent", got)
	}
}

func TestWrapKeepsExistingTag(t *testing.T) {
	orig := Permanentf("likely incorrect credentials")
	wrapped := Wrap(fmt.Errorf("login step: %w", orig))
	if !IsPermanent(wrapped) {
		t.Fatal("wrapped permanent error lost its tag")
	}
	var ce *Error
	if !errors.As(wrapped, &ce) || ce.Kind != Permanent {
		t.Fatal("expected the original *Error to survive Wrap")
	}
}

func TestWrapClassifiesUntaggedErrors(t *testing.T) {
	err := Wrap(errors.New("connection refused"))
	if IsPermanent(err) {
		t.Fatal("network error must be temporary")
	}
	if Wrap(nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
}

func TestKindOf(t *testing.T) {
	if KindOf(nil) != Temporary {
		t.Fatal("nil error should be temporary")
	}
	if KindOf(Temporaryf("slow page")) != Temporary {
		t.Fatal("explicit temporary tag ignored")
	}
	if KindOf(errors.New("account banned")) != Permanent {
		t.Fatal("untagged permanent text not classified")
	}
}

func TestErrorString(t *testing.T) {
	err := &Error{Kind: Permanent, Msg: "bad login", Cause: errors.New("403")}
	got := err.Error()
	if got != "permanent error: bad login: 403" {
		t.Fatalf("unexpected error string %q", got)
	}
}

func TestTextPredicates(t *testing.T) {
	if !IsLoginError("Wrong credentials supplied") {
		t.Error("IsLoginError missed a credential message")
	}
	if !IsNetworkError("net::ERR_NAME_NOT_RESOLVED") {
		t.Error("IsNetworkError missed a chromium network code")
	}
	if !IsTimeoutError("context deadline exceeded") {
		t.Error("IsTimeoutError missed deadline exceeded")
	}
	if !IsElementNotFound("element not found: div.adm-toast-main") {
		t.Error("IsElementNotFound missed a selector failure")
	}
	if IsLoginError("page crashed") {
		t.Error("IsLoginError false positive")
	}
}
