/*
main.go - Operator CLI for the fiscal document engine

PURPOSE:
  Offline inspection of a fiscal database: verify hash chains and dump
  audit trails without going through the HTTP API. Meant for operators
  and auditors working against a copy of the database file.

COMMANDS:
  fiscalctl verify --db fiscal.db --tenant acme --type invoice
      Re-verifies the tenant's chain and prints the report. Exits
      non-zero when the chain is broken, so it can gate exports.

  fiscalctl verify --db fiscal.db --all
      Sweeps every tenant and registered type.

  fiscalctl audit --db fiscal.db --document <id> [--json]
      Prints a document's audit trail and checks every entry signature.
      --json emits the raw entries for compliance exports.

ENVIRONMENT:
  FISCAL_SIGNING_KEY / FISCAL_RETIRED_KEYS as for the server. Without
  the right keys, hash checks still run but signature checks fail.

SEE ALSO:
  - ledger/verify.go: The verification logic
  - cmd/server/main.go: The HTTP server
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ledgerline/fiscal-engine/ledger"
	"github.com/ledgerline/fiscal-engine/store/sqlite"

	// Register document types with the ledger.
	_ "github.com/ledgerline/fiscal-engine/creditnote"
	_ "github.com/ledgerline/fiscal-engine/invoice"
	_ "github.com/ledgerline/fiscal-engine/quote"
)

var (
	dbPath   string
	tenantID string
	typeID   string
	allFlag  bool
	docID    string
	jsonFlag bool
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "fiscalctl",
		Short:         "Inspect and verify a fiscal document database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "fiscal.db", "SQLite database path")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-verify hash chains against stored documents",
		RunE:  runVerify,
	}
	verifyCmd.Flags().StringVar(&tenantID, "tenant", "", "tenant to verify")
	verifyCmd.Flags().StringVar(&typeID, "type", "", "document type to verify (invoice, credit_note, quote)")
	verifyCmd.Flags().BoolVar(&allFlag, "all", false, "verify every tenant and type")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Print and verify a document's audit trail",
		RunE:  runAudit,
	}
	auditCmd.Flags().StringVar(&docID, "document", "", "document ID")
	auditCmd.Flags().BoolVar(&jsonFlag, "json", false, "emit entries as JSON")
	auditCmd.MarkFlagRequired("document")

	root.AddCommand(verifyCmd, auditCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openStore() (*sqlite.Store, *ledger.Signer, error) {
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, nil, err
	}

	key := os.Getenv("FISCAL_SIGNING_KEY")
	if key == "" {
		key = "dev-insecure-signing-key"
	}
	signer := ledger.NewSigner([]byte(key))
	if retired := os.Getenv("FISCAL_RETIRED_KEYS"); retired != "" {
		var keys [][]byte
		for _, k := range strings.Split(retired, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, []byte(k))
			}
		}
		signer = signer.WithRetiredKeys(keys...)
	}
	return store, signer, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	if !allFlag && (tenantID == "" || typeID == "") {
		return fmt.Errorf("either --all or both --tenant and --type are required")
	}

	store, signer, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	verifier := ledger.NewVerifier(store, signer, zerolog.Nop())
	ctx := context.Background()

	var targets []struct {
		tenant ledger.TenantID
		typeID string
	}
	if allFlag {
		tenants, err := store.ListTenants(ctx)
		if err != nil {
			return err
		}
		for _, tenant := range tenants {
			for _, t := range ledger.ListTypes() {
				targets = append(targets, struct {
					tenant ledger.TenantID
					typeID string
				}{tenant, t.TypeID()})
			}
		}
	} else {
		targets = append(targets, struct {
			tenant ledger.TenantID
			typeID string
		}{ledger.TenantID(tenantID), typeID})
	}

	broken := 0
	for _, target := range targets {
		report, err := verifier.VerifyChain(ctx, target.tenant, target.typeID)
		if err != nil {
			return err
		}
		if report.Checked == 0 && allFlag {
			continue
		}
		if report.Valid {
			fmt.Printf("OK      %s/%s (%d documents)\n", target.tenant, target.typeID, report.Checked)
		} else {
			broken++
			fmt.Printf("BROKEN  %s/%s at sequence %d: %s\n",
				target.tenant, target.typeID, *report.BrokenAt, report.Reason)
		}
	}

	if broken > 0 {
		return fmt.Errorf("%d broken chain(s)", broken)
	}
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	store, signer, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := ledger.NewRecorder(signer)
	entries, err := store.AuditByDocument(context.Background(), ledger.DocumentID(docID))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no audit entries for document %s", docID)
	}

	bad := 0
	for _, entry := range entries {
		if recorder.VerifyEntry(entry) != nil {
			bad++
		}
	}

	if jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return err
		}
	} else {
		for _, entry := range entries {
			check := "ok"
			if recorder.VerifyEntry(entry) != nil {
				check = "SIGNATURE MISMATCH"
			}
			fmt.Printf("%s  %-16s  actor=%s (%s)  origin=%s  [%s]\n",
				entry.Timestamp.Format("2006-01-02 15:04:05"),
				entry.Action, entry.ActorID, entry.ActorRole, entry.Origin, check)
			for field, change := range entry.Diff {
				fmt.Printf("    %s: %q -> %q\n", field, change.From, change.To)
			}
		}
	}

	if bad > 0 {
		return fmt.Errorf("%d audit entries failed signature verification", bad)
	}
	return nil
}
