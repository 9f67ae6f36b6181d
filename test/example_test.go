package test

import (
	"context"
	"fmt"

	"github.com/MrEthical07/sessionguard"
	"github.com/MrEthical07/sessionguard/fingerprint"
)

func ExampleNew() {
	engine, err := sessionguard.New().
		WithConfig(sessionguard.DefaultConfig()).
		WithFingerprintSource(fingerprint.StaticSource{Env: fingerprint.Environment{
			UserAgent: "example-agent/1.0",
			Timezone:  "UTC",
			Language:  "en",
		}}).
		Build()
	if err != nil {
		fmt.Println("build failed:", err)
		return
	}
	defer engine.Close()

	ctx := context.Background()
	info, err := engine.StartSession(ctx, "user-123")
	if err != nil {
		fmt.Println("start failed:", err)
		return
	}
	if _, err := engine.Validate(ctx, info.ID); err != nil {
		fmt.Println("validate failed:", err)
	}
}

func ExampleEngine_Login() {
	authenticate := sessionguard.AuthenticatorFunc(func(_ context.Context, creds sessionguard.Credentials) (string, error) {
		if creds.Identifier == "alice" && creds.Secret == "correct-horse" {
			return "user-alice", nil
		}
		return "", sessionguard.ErrInvalidCredentials
	})

	engine, err := sessionguard.New().
		WithAuthenticator(authenticate).
		WithFingerprintSource(fingerprint.StaticSource{Env: fingerprint.Environment{UserAgent: "example"}}).
		Build()
	if err != nil {
		return
	}
	defer engine.Close()

	info, err := engine.Login(context.Background(), sessionguard.Credentials{
		Identifier: "alice",
		Secret:     "correct-horse",
	})
	if err != nil {
		fmt.Println("login failed:", err)
		return
	}
	_ = engine.Logout(context.Background(), info.ID)
}

func ExampleEngine_MetricsSnapshot() {
	engine, err := sessionguard.New().
		WithMetricsEnabled(true).
		WithFingerprintSource(fingerprint.StaticSource{Env: fingerprint.Environment{UserAgent: "example"}}).
		Build()
	if err != nil {
		return
	}
	defer engine.Close()

	snap := engine.MetricsSnapshot()
	_ = snap.Counters[sessionguard.MetricLoginSuccess]
}
