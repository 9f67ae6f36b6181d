package fingerprint

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
)

func testEnvironment() Environment {
	return Environment{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/131.0",
		Screen:    "1920x1080x24",
		Timezone:  "-120",
		Language:  "en-US",
		Platform:  "Linux",
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	env := testEnvironment()
	a := Generate(env)
	b := Generate(env)
	if a.Hash == "" {
		t.Fatal("expected non-empty hash")
	}
	if a.Hash != b.Hash {
		t.Fatalf("expected identical hashes, got %q and %q", a.Hash, b.Hash)
	}
	if !a.Equal(b) {
		t.Fatal("expected fingerprints to be equal")
	}
	if !a.Valid() {
		t.Fatal("expected generated fingerprint to be valid")
	}
}

func TestGenerateDiffersPerField(t *testing.T) {
	base := Generate(testEnvironment())

	mutations := map[string]func(*Environment){
		"user_agent": func(e *Environment) { e.UserAgent = "curl/8.0" },
		"screen":     func(e *Environment) { e.Screen = "1280x720x24" },
		"timezone":   func(e *Environment) { e.Timezone = "0" },
		"language":   func(e *Environment) { e.Language = "de-DE" },
		"platform":   func(e *Environment) { e.Platform = "Windows" },
	}
	for name, mutate := range mutations {
		env := testEnvironment()
		mutate(&env)
		if Generate(env).Equal(base) {
			t.Fatalf("expected %s change to alter hash", name)
		}
	}
}

func TestGenerateNormalizesWhitespaceAndCase(t *testing.T) {
	env := testEnvironment()
	noisy := env
	noisy.UserAgent = "  " + env.UserAgent + " "
	noisy.Language = "EN-us"
	if !Generate(env).Equal(Generate(noisy)) {
		t.Fatal("expected normalization to produce identical hash")
	}
}

func TestTamperedFingerprintIsInvalid(t *testing.T) {
	fp := Generate(testEnvironment())
	fp.Platform = "Windows"
	if fp.Valid() {
		t.Fatal("expected tampered fingerprint to be invalid")
	}
	if (Fingerprint{}).Equal(Fingerprint{}) {
		t.Fatal("empty fingerprints must never compare equal")
	}
	if len(Generate(testEnvironment()).HashBytes()) != 32 {
		t.Fatal("expected 32-byte digest")
	}
}

func TestContextSource(t *testing.T) {
	env := testEnvironment()
	src := ContextSource{}

	if _, err := src.Environment(context.Background()); !errors.Is(err, ErrNoEnvironment) {
		t.Fatalf("expected ErrNoEnvironment, got %v", err)
	}

	got, err := src.Environment(WithEnvironment(context.Background(), env))
	if err != nil {
		t.Fatalf("environment from context: %v", err)
	}
	if got != env {
		t.Fatalf("unexpected environment %+v", got)
	}

	withFallback := ContextSource{Fallback: StaticSource{Env: env}}
	got, err = withFallback.Environment(context.Background())
	if err != nil || got != env {
		t.Fatalf("expected fallback environment, got %+v err=%v", got, err)
	}
}

func TestRequestEnvironment(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("User-Agent", "ua-test")
	r.Header.Set("Accept-Language", "fr-CH, fr;q=0.9, en;q=0.8")
	r.Header.Set(HeaderPlatform, `"macOS"`)
	r.Header.Set(HeaderScreen, "2560x1440x30")
	r.Header.Set(HeaderTimezone, "-60")

	env := RequestEnvironment(r)
	want := Environment{
		UserAgent: "ua-test",
		Screen:    "2560x1440x30",
		Timezone:  "-60",
		Language:  "fr-CH",
		Platform:  "macOS",
	}
	if env != want {
		t.Fatalf("expected %+v, got %+v", want, env)
	}
}
