package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/latticegate/sentry/internal/audit"
	"github.com/latticegate/sentry/internal/trust"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trustctl",
		Short: "Manage the trust manifest governing which signal/action scripts the engine may execute",
		Long:  "trustctl — out-of-band administration of the trust manifest.\nInit, update, and verify the hashed inventory of trusted signal and action scripts.",
	}

	var manifestPath string
	var auditDBPath string
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", trust.DefaultPath("."), "Path to the trust manifest")
	rootCmd.PersistentFlags().StringVarP(&auditDBPath, "audit-db", "a", "audit.db", "Path to the manifest-update audit database")

	var category string
	rootCmd.PersistentFlags().StringVarP(&category, "category", "c", "", `Manifest category: "signals" or "actions"`)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("trustctl %s (%s)\n", version, commit)
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty trust manifest and its audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(manifestPath, auditDBPath)
		},
	}

	var actor string
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "", "Identity recorded in the audit log (default: current OS user)")

	updateCmd := &cobra.Command{
		Use:   "update <name> <script-reference>",
		Short: "Hash a script reference and add or refresh its manifest entry under --category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategory(category)
			if err != nil {
				return err
			}
			return runUpdate(manifestPath, auditDBPath, resolveActor(actor), cat, args[0], args[1])
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a script's entry from --category in the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := parseCategory(category)
			if err != nil {
				return err
			}
			return runRemove(manifestPath, auditDBPath, resolveActor(actor), cat, args[0])
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify [name]",
		Short: "Verify the manifest's hash-chained audit log, or a single --category entry's hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				cat, err := parseCategory(category)
				if err != nil {
					return err
				}
				return runVerifyScript(manifestPath, cat, args[0])
			}
			return runVerifyAuditChain(auditDBPath, manifestPath)
		},
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print the manifest's audit history, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(auditDBPath, manifestPath)
		},
	}

	rootCmd.AddCommand(versionCmd, initCmd, updateCmd, removeCmd, verifyCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseCategory(value string) (trust.Category, error) {
	switch value {
	case string(trust.CategorySignals):
		return trust.CategorySignals, nil
	case string(trust.CategoryActions):
		return trust.CategoryActions, nil
	default:
		return "", fmt.Errorf(`trustctl: --category must be "signals" or "actions", got %q`, value)
	}
}

func resolveActor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func runInit(manifestPath, auditDBPath string) error {
	if _, err := os.Stat(manifestPath); err == nil {
		return fmt.Errorf("trustctl: manifest already exists at %s", manifestPath)
	}
	m := &trust.Manifest{}
	if err := m.Save(manifestPath); err != nil {
		return fmt.Errorf("trustctl: writing manifest: %w", err)
	}

	log, err := audit.Open(auditDBPath, manifestPath)
	if err != nil {
		return fmt.Errorf("trustctl: opening audit log: %w", err)
	}
	defer log.Close()

	fmt.Printf("initialized empty trust manifest at %s\n", manifestPath)
	return nil
}

func runUpdate(manifestPath, auditDBPath, actor string, cat trust.Category, name, reference string) error {
	m, err := trust.Load(manifestPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("trustctl: loading manifest: %w", err)
	}
	if m == nil {
		m = &trust.Manifest{}
	}

	kind, resolved := trust.ParseScriptReference(reference)
	newHash, err := trust.HashReference(kind, resolved)
	if err != nil {
		return fmt.Errorf("trustctl: hashing %s: %w", reference, err)
	}

	var oldHash string
	if existing, ok := m.Lookup(cat, name); ok {
		oldHash = existing.Hash
	}

	if err := m.Put(cat, name, kind, resolved, newHash); err != nil {
		return fmt.Errorf("trustctl: updating %s/%s: %w", cat, name, err)
	}
	if err := m.Save(manifestPath); err != nil {
		return fmt.Errorf("trustctl: saving manifest: %w", err)
	}

	log, err := audit.Open(auditDBPath, manifestPath)
	if err != nil {
		return fmt.Errorf("trustctl: opening audit log: %w", err)
	}
	defer log.Close()

	auditRef := string(cat) + "/" + name
	if _, err := log.Record(actor, "put", auditRef, oldHash, newHash); err != nil {
		return fmt.Errorf("trustctl: recording audit entry: %w", err)
	}

	fmt.Printf("trusted %s/%s (%s)\n", cat, name, newHash)
	return nil
}

func runRemove(manifestPath, auditDBPath, actor string, cat trust.Category, name string) error {
	m, err := trust.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("trustctl: loading manifest: %w", err)
	}

	removed, found := m.Remove(cat, name)
	if !found {
		return fmt.Errorf("trustctl: %s/%s is not in the manifest", cat, name)
	}

	if err := m.Save(manifestPath); err != nil {
		return fmt.Errorf("trustctl: saving manifest: %w", err)
	}

	log, err := audit.Open(auditDBPath, manifestPath)
	if err != nil {
		return fmt.Errorf("trustctl: opening audit log: %w", err)
	}
	defer log.Close()

	auditRef := string(cat) + "/" + name
	if _, err := log.Record(actor, "remove", auditRef, removed.Hash, ""); err != nil {
		return fmt.Errorf("trustctl: recording audit entry: %w", err)
	}

	fmt.Printf("removed %s/%s from manifest\n", cat, name)
	return nil
}

func runVerifyScript(manifestPath string, cat trust.Category, name string) error {
	m, err := trust.Load(manifestPath)
	if err != nil {
		return fmt.Errorf("trustctl: loading manifest: %w", err)
	}

	entry, ok := m.Lookup(cat, name)
	if !ok {
		return fmt.Errorf("trustctl: %s/%s is not in the manifest", cat, name)
	}

	actual, err := trust.HashReference(entry.ScriptType, entry.Reference)
	if err != nil {
		return fmt.Errorf("trustctl: hashing %s: %w", entry.Reference, err)
	}
	if actual != entry.Hash {
		return fmt.Errorf("trustctl: %s/%s has drifted: manifest says %s, actual is %s", cat, name, entry.Hash, actual)
	}

	fmt.Printf("%s/%s matches its manifest entry (%s)\n", cat, name, entry.Hash)
	return nil
}

func runVerifyAuditChain(auditDBPath, manifestPath string) error {
	log, err := audit.Open(auditDBPath, manifestPath)
	if err != nil {
		return fmt.Errorf("trustctl: opening audit log: %w", err)
	}
	defer log.Close()

	valid, brokenAt, err := log.Verify()
	if err != nil {
		return fmt.Errorf("trustctl: verifying audit chain: %w", err)
	}
	if !valid {
		return fmt.Errorf("trustctl: audit chain broken at entry %d", brokenAt)
	}

	fmt.Println("audit chain intact")
	return nil
}

func runHistory(auditDBPath, manifestPath string) error {
	log, err := audit.Open(auditDBPath, manifestPath)
	if err != nil {
		return fmt.Errorf("trustctl: opening audit log: %w", err)
	}
	defer log.Close()

	entries, err := log.History()
	if err != nil {
		return fmt.Errorf("trustctl: reading history: %w", err)
	}
	for _, e := range entries {
		fmt.Printf("%s  %-8s %-6s %-40s actor=%s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.ID, e.Operation, e.Reference, e.Actor)
	}
	return nil
}
