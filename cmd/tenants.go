package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/funnel-cli/internal/model"
)

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Manage tenants and their integration credentials",
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "job")
		if err != nil {
			return err
		}
		defer env.Close()

		tenants, err := env.Tenants.List(ctx)
		if err != nil {
			return err
		}
		return writeTenantTable(cmd.OutOrStdout(), tenants)
	},
}

var tenantsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create or update tenants and integrations from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close() //nolint:errcheck

		entries, err := parseTenantFile(f)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "job")
		if err != nil {
			return err
		}
		defer env.Close()

		for _, s := range entries {
			t := s.tenant()
			if err := env.Tenants.Upsert(ctx, t); err != nil {
				return err
			}
			for _, in := range s.integrations(t.ID) {
				if err := env.Tenants.UpsertIntegration(ctx, in); err != nil {
					return err
				}
			}
			if env.Cache != nil {
				env.Cache.Invalidate(ctx, t)
			}
			zap.L().Info("tenant imported",
				zap.String("slug", t.Slug),
				zap.String("id", t.ID),
				zap.Int("integrations", len(s.Integrations)),
			)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d tenants\n", len(entries))
		return nil
	},
}

// tenantFile is the YAML layout read by tenants import.
type tenantFile struct {
	Tenants []tenantEntry `yaml:"tenants"`
}

type tenantEntry struct {
	Slug         string                       `yaml:"slug"`
	Name         string                       `yaml:"name"`
	OwnerName    string                       `yaml:"owner_name"`
	ReportEmail  string                       `yaml:"report_email"`
	IsActive     *bool                        `yaml:"is_active"`
	Config       model.TenantConfig           `yaml:"config"`
	Integrations map[string]map[string]string `yaml:"integrations"`
}

var knownProviders = map[string]bool{
	model.ProviderStripe:   true,
	model.ProviderMeta:     true,
	model.ProviderManyChat: true,
}

// parseTenantFile decodes and validates a tenant file. is_active defaults
// to true.
func parseTenantFile(r io.Reader) ([]tenantEntry, error) {
	var tf tenantFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&tf); err != nil {
		return nil, eris.Wrap(err, "parse tenant file")
	}
	if len(tf.Tenants) == 0 {
		return nil, eris.New("tenant file lists no tenants")
	}

	seen := map[string]bool{}
	for i, s := range tf.Tenants {
		s.Slug = strings.TrimSpace(strings.ToLower(s.Slug))
		switch {
		case s.Slug == "":
			return nil, eris.Errorf("tenant %d: slug is required", i+1)
		case s.Name == "":
			return nil, eris.Errorf("tenant %s: name is required", s.Slug)
		case seen[s.Slug]:
			return nil, eris.Errorf("tenant %s: listed twice", s.Slug)
		}
		seen[s.Slug] = true
		for p := range s.Integrations {
			if !knownProviders[p] {
				return nil, eris.Errorf("tenant %s: unknown provider %q", s.Slug, p)
			}
		}
		tf.Tenants[i] = s
	}
	return tf.Tenants, nil
}

func (s tenantEntry) tenant() *model.Tenant {
	active := true
	if s.IsActive != nil {
		active = *s.IsActive
	}
	return &model.Tenant{
		Slug:        s.Slug,
		Name:        s.Name,
		OwnerName:   s.OwnerName,
		ReportEmail: s.ReportEmail,
		IsActive:    active,
		Config:      s.Config,
	}
}

func (s tenantEntry) integrations(tenantID string) []*model.TenantIntegration {
	out := make([]*model.TenantIntegration, 0, len(s.Integrations))
	for _, p := range []string{model.ProviderStripe, model.ProviderMeta, model.ProviderManyChat} {
		creds, ok := s.Integrations[p]
		if !ok {
			continue
		}
		out = append(out, &model.TenantIntegration{
			TenantID:    tenantID,
			Provider:    p,
			Credentials: creds,
			IsActive:    true,
		})
	}
	return out
}

func writeTenantTable(w io.Writer, tenants []model.Tenant) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tNAME\tACTIVE\tREPORT TO\tLEAD MAGNET ADS")
	for _, t := range tenants {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%d\n",
			t.Slug, t.Name, t.IsActive, strings.Join(t.ReportRecipients(), ","), len(t.Config.LeadMagnetAdIDs))
	}
	return eris.Wrap(tw.Flush(), "write tenant table")
}

func init() {
	tenantsCmd.AddCommand(tenantsListCmd, tenantsImportCmd)
	rootCmd.AddCommand(tenantsCmd)
}
