// seed inserts development accounts for local testing. Idempotent: skips when the dev admin exists.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"careportal/internal/assignment/domain"
	assignmentrepo "careportal/internal/assignment/repository"
	"careportal/internal/config"
	"careportal/internal/db"
	"careportal/internal/encryption"
	identitydomain "careportal/internal/identity/domain"
	identityrepo "careportal/internal/identity/repository"
	"careportal/internal/identity/service"
	"careportal/internal/ids"
	"careportal/internal/pii"
	"careportal/internal/policy/engine"
	"careportal/internal/security"
)

const (
	devPassword  = "Password123!"
	adminEmail   = "admin@example.com"
	doctorEmail  = "doctor@example.com"
	patientEmail = "patient@example.com"
	devPolicyID  = "dev-policy-001"
)

var accounts = []service.RegisterInput{
	{Email: adminEmail, Name: "Dev Admin", Role: identitydomain.RoleAdmin},
	{Email: doctorEmail, Name: "Dr. Dev", Role: identitydomain.RoleDoctor,
		PII: identitydomain.PII{Phone: "+1-555-0100"}},
	{Email: patientEmail, Name: "Pat Dev", Role: identitydomain.RolePatient,
		PII: identitydomain.PII{NationalID: "123-45-6789", Phone: "+1-555-0199", Address: "1 Main St, Springfield"}},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	key, err := cfg.EncryptionKeyBytes()
	if err != nil {
		log.Fatalf("seed needs ENCRYPTION_KEY: %v", err)
	}
	cipher, err := encryption.New(encryption.Config{Key: key})
	if err != nil {
		log.Fatalf("encryption: %v", err)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL, db.Pool{MaxOpen: 2})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	identities := identityrepo.NewPostgresRepository(conn)
	existing, err := identities.GetByEmail(ctx, adminEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", adminEmail)
		return
	}

	// PII is sealed by the codec exactly as on the registration path.
	auth := service.NewAuthService(service.Deps{
		Identities: identities,
		Codec:      pii.NewCodec(cipher, identities, nil),
		Hasher:     security.NewHasher(cfg.BcryptCost),
	})
	created := make(map[string]string, len(accounts))
	for _, in := range accounts {
		in.Password = devPassword
		ident, err := auth.Register(ctx, in)
		if err != nil {
			log.Fatalf("create %s: %v", in.Email, err)
		}
		created[in.Email] = ident.ID
	}

	now := time.Now().UTC()
	if err := assignmentrepo.NewPostgresRepository(conn).Create(ctx, &domain.Assignment{
		ID:        ids.NewAt(now),
		DoctorID:  created[doctorEmail],
		PatientID: created[patientEmail],
		CreatedAt: now,
	}); err != nil {
		log.Fatalf("create assignment: %v", err)
	}

	if err := insertPolicy(ctx, conn, now); err != nil {
		log.Fatalf("create policy: %v", err)
	}

	log.Println("Seed completed successfully.")
	for _, in := range accounts {
		fmt.Printf("%s login: %s / %s\n", in.Role, in.Email, devPassword)
	}
}

// insertPolicy stores the built-in file-access policy, disabled, so admins have a starting point to edit.
func insertPolicy(ctx context.Context, conn *sql.DB, now time.Time) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO access_policies (id, name, rules, enabled, created_at) VALUES ($1, $2, $3, false, $4)
		ON CONFLICT (id) DO NOTHING`,
		devPolicyID, "file-access (default)", engine.DefaultPolicy, now)
	return err
}
