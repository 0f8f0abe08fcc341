// cmd/admin/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dangerclosesec/strategist/internal/auth"
	"github.com/dangerclosesec/strategist/internal/config"
	"github.com/dangerclosesec/strategist/internal/database"
	"github.com/dangerclosesec/strategist/internal/entitlement"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/rowpolicy"
	"github.com/dangerclosesec/strategist/internal/service"
	"github.com/dangerclosesec/strategist/internal/tenant"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"
)

var (
	configFile string
	verbose    bool
	timeout    time.Duration

	v = viper.New()
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().String("driver", "", "Database driver: postgres or sqlite")
	rootCmd.PersistentFlags().String("row-policy", "", "Row policy mode: native, filter or off")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time for the command")

	_ = v.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("driver"))
	_ = v.BindPFlag("row_policy.mode", rootCmd.PersistentFlags().Lookup("row-policy"))

	orgCreateCmd.RunE = withDB(runOrgCreate)
	eventsCmd.RunE = withDB(runEvents)

	orgCreateCmd.Flags().String("name", "", "Organization name")
	orgCreateCmd.Flags().String("owner-email", "", "Owner email")
	orgCreateCmd.Flags().String("owner-name", "", "Owner name")
	orgCreateCmd.Flags().String("owner-password", "", "Owner password")
	orgCreateCmd.Flags().String("plan", string(model.PlanFree), "Plan: free, pro or enterprise")
	_ = orgCreateCmd.MarkFlagRequired("name")
	_ = orgCreateCmd.MarkFlagRequired("owner-email")
	_ = orgCreateCmd.MarkFlagRequired("owner-password")

	eventsCmd.Flags().String("kind", "", "Only events of this kind")
	eventsCmd.Flags().String("org", "", "Only events for this organization id")
	eventsCmd.Flags().Duration("since", 24*time.Hour, "How far back to look")
	eventsCmd.Flags().Int("limit", 50, "Maximum number of events")

	orgCmd.AddCommand(orgCreateCmd, orgListCmd, orgPlanCmd, orgDisableCmd, orgEnableCmd)
	rootCmd.AddCommand(migrateCmd, policiesCmd, orgCmd, usageCmd, eventsCmd)
}

var rootCmd = &cobra.Command{
	Use:   "strategist-admin",
	Short: "Operator tool for the strategist service",
	Long:  `Operator tool for migrating the schema, installing row policies and administering organizations.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		if configFile != "" {
			os.Setenv("CONFIG_FILE", configFile)
		}
	},
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update tables and install row policies",
	RunE: withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB, mode rowpolicy.Mode, args []string) error {
		if err := database.Migrate(ctx, db, mode); err != nil {
			return err
		}
		fmt.Printf("Schema migrated (driver %s, row policy %s)\n", cfg.Database.Driver, mode)
		return nil
	}),
}

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Print the PostgreSQL row policy statements",
	Run: func(cmd *cobra.Command, args []string) {
		for _, stmt := range rowpolicy.Statements(rowpolicy.Rules) {
			fmt.Println(stmt + ";")
		}
	},
}

var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Administer organizations",
}

var orgCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an organization and its owner",
}

// runOrgCreate is attached to orgCreateCmd in init to avoid an
// initialization cycle through orgCreateCmdFlags.
func runOrgCreate(ctx context.Context, cfg *config.Config, db *gorm.DB, mode rowpolicy.Mode, args []string) error {
	flags := orgCreateCmdFlags()
	svc, err := orgService(cfg, db, mode)
	if err != nil {
		return err
	}

	out, err := svc.Register(ctx, service.RegisterInput{
		Organization: flags.name,
		Name:         flags.ownerName,
		Email:        flags.ownerEmail,
		Password:     flags.ownerPassword,
	})
	if err != nil {
		return err
	}

	plan := model.Plan(flags.plan)
	if plan != model.PlanFree {
		if err := svc.SetPlan(ctx, out.Organization.ID, plan); err != nil {
			return err
		}
	}

	fmt.Printf("Organization %s created (id %s, plan %s)\n", out.Organization.Name, out.Organization.ID, plan)
	fmt.Printf("Owner %s (id %s)\n", out.User.Email, out.User.ID)
	if verbose {
		fmt.Printf("Token: %s\n", out.Token)
	}
	return nil
}

type createFlags struct {
	name, ownerEmail, ownerName, ownerPassword, plan string
}

func orgCreateCmdFlags() createFlags {
	f := orgCreateCmd.Flags()
	var out createFlags
	out.name, _ = f.GetString("name")
	out.ownerEmail, _ = f.GetString("owner-email")
	out.ownerName, _ = f.GetString("owner-name")
	out.ownerPassword, _ = f.GetString("owner-password")
	out.plan, _ = f.GetString("plan")
	if out.ownerName == "" {
		out.ownerName = out.ownerEmail
	}
	return out
}

var orgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List organizations",
	RunE: withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB, mode rowpolicy.Mode, args []string) error {
		dir := repository.NewDirectory(db, mode)
		orgs, total, err := dir.ListOrganizations(ctx, 0, 1000)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPLAN\tDISABLED\tCREATED")
		for _, org := range orgs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", org.ID, org.Name, org.Plan, org.Disabled(), org.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
		fmt.Printf("%d of %d organizations\n", len(orgs), total)
		return nil
	}),
}

var orgPlanCmd = &cobra.Command{
	Use:   "plan [org-id] [plan]",
	Short: "Change an organization's plan",
	Args:  cobra.ExactArgs(2),
	RunE: withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB, mode rowpolicy.Mode, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid organization id: %w", err)
		}
		svc, err := orgService(cfg, db, mode)
		if err != nil {
			return err
		}
		if err := svc.SetPlan(ctx, id, model.Plan(args[1])); err != nil {
			return err
		}
		fmt.Printf("Organization %s moved to plan %s\n", id, args[1])
		return nil
	}),
}

var orgDisableCmd = &cobra.Command{
	Use:   "disable [org-id]",
	Short: "Disable an organization",
	Args:  cobra.ExactArgs(1),
	RunE:  setDisabled(true),
}

var orgEnableCmd = &cobra.Command{
	Use:   "enable [org-id]",
	Short: "Re-enable an organization",
	Args:  cobra.ExactArgs(1),
	RunE:  setDisabled(false),
}

func setDisabled(disabled bool) func(*cobra.Command, []string) error {
	return withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB, mode rowpolicy.Mode, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid organization id: %w", err)
		}
		svc, err := orgService(cfg, db, mode)
		if err != nil {
			return err
		}
		if err := svc.SetDisabled(ctx, id, disabled); err != nil {
			return err
		}
		fmt.Printf("Organization %s disabled=%t\n", id, disabled)
		return nil
	})
}

var usageCmd = &cobra.Command{
	Use:   "usage [org-id]",
	Short: "Show an organization's usage for the current period",
	Args:  cobra.ExactArgs(1),
	RunE: withDB(func(ctx context.Context, cfg *config.Config, db *gorm.DB, mode rowpolicy.Mode, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid organization id: %w", err)
		}

		org, err := repository.NewDirectory(db, mode).FindOrganization(ctx, id)
		if err != nil {
			return err
		}
		policy, err := entitlement.PolicyFor(org.Plan)
		if err != nil {
			return err
		}

		sess, err := repository.NewStore(db, mode).Acquire(tenant.System(org))
		if err != nil {
			return err
		}
		defer sess.Release()

		period := entitlement.Period(time.Now())
		used, err := sess.Usage(ctx, period)
		if err != nil {
			return err
		}

		limit := "unlimited"
		if !policy.Unlimited() {
			limit = fmt.Sprint(policy.MaxAnalysesPerPeriod)
		}
		fmt.Printf("%s (%s) period %s: %d used, limit %s\n", org.Name, org.Plan, period, used, limit)
		return nil
	}),
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List recorded security events",
}

// runEvents is attached to eventsCmd in init to avoid an initialization
// cycle through eventsCmdFlags.
func runEvents(ctx context.Context, cfg *config.Config, db *gorm.DB, mode rowpolicy.Mode, args []string) error {
	f := eventsCmdFlags()
	query := repository.SecurityEventQuery{
		Kind:      f.kind,
		StartTime: time.Now().UTC().Add(-f.since),
		Limit:     f.limit,
	}
	if f.org != "" {
		id, err := uuid.Parse(f.org)
		if err != nil {
			return fmt.Errorf("invalid organization id: %w", err)
		}
		query.OrgID = &id
	}

	events, total, err := repository.NewSecurityEventRepository(db).Query(ctx, query)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tORG\tDETAIL")
	for _, e := range events {
		org := "-"
		if e.OrgID != nil {
			org = e.OrgID.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Kind, org, e.Detail)
	}
	w.Flush()
	fmt.Printf("%d of %d events\n", len(events), total)
	return nil
}

type eventFlags struct {
	kind, org string
	since     time.Duration
	limit     int
}

func eventsCmdFlags() eventFlags {
	f := eventsCmd.Flags()
	var out eventFlags
	out.kind, _ = f.GetString("kind")
	out.org, _ = f.GetString("org")
	out.since, _ = f.GetDuration("since")
	out.limit, _ = f.GetInt("limit")
	return out
}

type dbCommand func(ctx context.Context, cfg *config.Config, db *gorm.DB, mode rowpolicy.Mode, args []string) error

// withDB loads configuration, opens the database and runs fn under the
// --timeout deadline.
func withDB(fn dbCommand) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWith(v)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		db, mode, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		return fn(ctx, cfg, db, mode, args)
	}
}

func orgService(cfg *config.Config, db *gorm.DB, mode rowpolicy.Mode) (*service.OrganizationService, error) {
	hasher, err := auth.NewPasswordHasher(cfg.PasswordParams())
	if err != nil {
		return nil, fmt.Errorf("setting up password hashing: %w", err)
	}
	return service.NewOrganizationService(
		repository.NewStore(db, mode),
		repository.NewDirectory(db, mode),
		hasher,
		auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpiryPeriod),
		nil,
		cfg.BaseURL,
		slog.Default(),
	), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
