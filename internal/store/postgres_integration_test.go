// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/store"
)

// setupPostgres starts a PostgreSQL container with the auth schema applied.
func setupPostgres() (*store.DB, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("authcore_test"),
		postgres.WithUsername("authcore"),
		postgres.WithPassword("authcore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, nil, err
	}
	terminate := func() { _ = container.Terminate(ctx) }

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		terminate()
		return nil, nil, err
	}
	_ = migrator.Close()

	db, err := store.Connect(ctx, connStr)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	return db, func() {
		db.Close()
		terminate()
	}, nil
}

var _ = Describe("PostgreSQL auth stores", Ordered, func() {
	var (
		db      *store.DB
		cleanup func()
		creds   *auth.CredentialStore
		tokens  *auth.LoginTokenStore
		now     time.Time
	)

	BeforeAll(func() {
		var err error
		db, cleanup, err = setupPostgres()
		Expect(err).NotTo(HaveOccurred())

		now = time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
		clock := auth.WithClock(func() time.Time { return now })

		hasher, err := auth.NewPasswordHasher(auth.HashConfig{
			Algorithm: auth.AlgorithmArgon2id,
			Argon2id:  auth.Argon2idParams{Time: 1, MemoryKiB: 64, Threads: 1, SaltLength: 16, KeyLength: 32},
		})
		Expect(err).NotTo(HaveOccurred())

		creds, err = auth.NewCredentialStore(db.Users(), hasher, auth.DefaultPolicy(), clock)
		Expect(err).NotTo(HaveOccurred())
		tokens, err = auth.NewLoginTokenStore(db.Tokens(), auth.DefaultTokenPolicy(), clock)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		cleanup()
	})

	Describe("CredentialStore", func() {
		It("reports duplicate emails per field", func() {
			ctx := context.Background()
			_, err := creds.Create(ctx, auth.NewUserInput{Email: "dup@example.com", Username: "dup", Password: "password123"})
			Expect(err).NotTo(HaveOccurred())

			_, err = creds.Create(ctx, auth.NewUserInput{Email: "DUP@example.com", Username: "other", Password: "password123"})
			var verr *auth.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
			Expect(verr.Fields).To(HaveKeyWithValue("email", auth.ReasonAlreadyExists))
		})

		It("frees the email after a soft delete", func() {
			ctx := context.Background()
			id, err := creds.Create(ctx, auth.NewUserInput{Email: "reuse@example.com", Password: "password123"})
			Expect(err).NotTo(HaveOccurred())
			Expect(creds.SoftDelete(ctx, id)).To(Succeed())

			newID, err := creds.Create(ctx, auth.NewUserInput{Email: "reuse@example.com", Password: "password123"})
			Expect(err).NotTo(HaveOccurred())
			Expect(newID).NotTo(Equal(id))

			err = creds.Restore(ctx, id)
			var verr *auth.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue())
		})

		It("stores timestamps in UTC", func() {
			ctx := context.Background()
			id, err := creds.Create(ctx, auth.NewUserInput{Email: "utc@example.com", Password: "password123"})
			Expect(err).NotTo(HaveOccurred())
			creds.UpdateLastLogin(ctx, id)

			u, err := creds.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.CreatedAt.Location()).To(Equal(time.UTC))
			Expect(u.LastLogin).NotTo(BeNil())
			Expect(u.LastLogin.Equal(now)).To(BeTrue())
		})
	})

	Describe("LoginTokenStore", func() {
		It("issues, extends and revokes tokens", func() {
			ctx := context.Background()
			userID, err := creds.Create(ctx, auth.NewUserInput{Email: "tokens@example.com", Password: "password123"})
			Expect(err).NotTo(HaveOccurred())

			token, err := tokens.Issue(ctx, userID, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			v, err := tokens.Validate(ctx, token.Selector, token.Verifier)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.UserID).To(Equal(userID))
			Expect(v.ExpiresAt.Equal(now.Add(auth.DefaultTokenLifetime))).To(BeTrue())

			_, err = tokens.Validate(ctx, token.Selector, token.Selector+token.Selector)
			Expect(errors.Is(err, auth.ErrTokenInvalid)).To(BeTrue())

			n, err := tokens.Revoke(ctx, userID, auth.RevokeAll)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = tokens.Validate(ctx, token.Selector, token.Verifier)
			Expect(errors.Is(err, auth.ErrTokenInvalid)).To(BeTrue())
		})

		It("purges only expired tokens", func() {
			ctx := context.Background()
			userID, err := creds.Create(ctx, auth.NewUserInput{Email: "purge@example.com", Password: "password123"})
			Expect(err).NotTo(HaveOccurred())

			_, err = tokens.Issue(ctx, userID, time.Minute)
			Expect(err).NotTo(HaveOccurred())
			_, err = tokens.Issue(ctx, userID, 48*time.Hour)
			Expect(err).NotTo(HaveOccurred())

			now = now.Add(time.Hour)
			DeferCleanup(func() { now = now.Add(-time.Hour) })

			n, err := tokens.PurgeExpired(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeNumerically(">=", 1))

			left, err := tokens.GetAllByUser(ctx, userID)
			Expect(err).NotTo(HaveOccurred())
			Expect(left).To(HaveLen(1))
		})
	})
})
