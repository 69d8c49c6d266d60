package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/config"
	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/domain/template"
	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/auth"
	"github.com/LashaKh/MediMind-Expert-1.0-sub008/internal/platform/cache"
)

// session is one CLI invocation's view of the caller's templates.
type session struct {
	store *template.Store
	api   *template.HTTPClientGateway
	out   io.Writer
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage report templates through the API",
	}
	cmd.PersistentFlags().String("api-url", "", "API base URL (default $MEDIMIND_API_URL)")
	cmd.PersistentFlags().String("token", "", "Bearer token (default $MEDIMIND_TOKEN)")

	cmd.AddCommand(
		templatesListCmd(),
		templatesShowCmd(),
		templatesCreateCmd(),
		templatesUpdateCmd(),
		templatesDeleteCmd(),
		templatesUseCmd(),
		templatesStatsCmd(),
		templatesExportCmd(),
		templatesImportCmd(),
		templatesCheckCmd(),
	)
	return cmd
}

// ownerFromToken reads the subject of a bearer token without verifying it;
// the server does the verification. No token means the development user.
func ownerFromToken(token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.MustParse(auth.DevUserID), nil
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return uuid.Nil, fmt.Errorf("reading token: %w", err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject %q is not a user id", claims.Subject)
	}
	return id, nil
}

func newSession(cmd *cobra.Command, cfg *config.Config, load bool) (*session, error) {
	apiURL, _ := cmd.Flags().GetString("api-url")
	token, _ := cmd.Flags().GetString("token")
	if apiURL == "" {
		apiURL = cfg.APIURL
	}
	if token == "" {
		token = cfg.APIToken
	}

	owner, err := ownerFromToken(token)
	if err != nil {
		return nil, err
	}

	var opts []template.ClientOption
	if token != "" {
		opts = append(opts, template.WithToken(token))
	}
	api := template.NewHTTPClientGateway(apiURL, opts...)
	gw := template.NewCachingGateway(
		template.NewRetryingGateway(api,
			template.WithMaxAttempts(cfg.TemplateRetryAttempts),
			template.WithBaseDelay(cfg.TemplateRetryBaseDelay),
		),
		cache.NewInMemoryStore(),
		template.WithCacheTTL(cfg.TemplateCacheTTL),
	)

	s := &session{
		store: template.NewStore(gw, owner, template.WithStoreLimit(cfg.TemplateLimit)),
		api:   api,
		out:   cmd.OutOrStdout(),
	}
	if load {
		if err := s.store.Init(cmd.Context()); err != nil {
			_ = s.store.Close()
			return nil, err
		}
	}
	return s, nil
}

// withSession loads configuration, opens a session, runs fn and drains the
// store. load controls whether the template list is fetched first.
func withSession(cmd *cobra.Command, load bool, fn func(ctx context.Context, s *session) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	s, err := newSession(cmd, cfg, load)
	if err != nil {
		return cliError(err)
	}
	err = fn(cmd.Context(), s)
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return cliError(err)
}

// cliError swaps taxonomy errors for their user-facing message.
func cliError(err error) error {
	var te *template.Error
	if !errors.As(err, &te) {
		return err
	}
	if len(te.Fields) > 1 {
		msgs := make([]string, len(te.Fields))
		for i, f := range te.Fields {
			msgs[i] = f.Field + ": " + f.Message
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return errors.New(te.UserMessage())
}

func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func printTemplate(w io.Writer, t *template.Template) {
	fmt.Fprintf(w, "ID:         %s\n", t.ID)
	fmt.Fprintf(w, "Name:       %s\n", t.Name)
	fmt.Fprintf(w, "Used:       %d time(s)\n", t.UsageCount)
	if t.LastUsedAt != nil {
		fmt.Fprintf(w, "Last used:  %s\n", t.LastUsedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "Created:    %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04"))
	if t.Notes != "" {
		fmt.Fprintf(w, "Notes:      %s\n", t.Notes)
	}
}

func templatesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			search, _ := cmd.Flags().GetString("search")
			orderBy, _ := cmd.Flags().GetString("order-by")
			direction, _ := cmd.Flags().GetString("direction")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				s.store.SetFilters(template.SearchFilters{
					Search:    search,
					OrderBy:   template.SortField(orderBy),
					Direction: template.SortDirection(direction),
					Limit:     limit,
					Offset:    offset,
				})
				if err := s.store.LoadTemplates(ctx); err != nil {
					return err
				}
				st := s.store.Snapshot()
				fmt.Fprintf(s.out, "%-36s  %-40s  %5s  %s\n", "ID", "NAME", "USED", "LAST USED")
				for _, t := range st.Templates {
					last := "-"
					if t.LastUsedAt != nil {
						last = t.LastUsedAt.Local().Format("2006-01-02 15:04")
					}
					fmt.Fprintf(s.out, "%-36s  %-40s  %5d  %s\n", t.ID, t.Name, t.UsageCount, last)
				}
				fmt.Fprintf(s.out, "\n%d of %d template(s) shown, %d slot(s) remaining\n",
					len(st.Templates), st.TotalCount, st.Remaining())
				return nil
			})
		},
	}
	cmd.Flags().String("search", "", "Filter by name")
	cmd.Flags().String("order-by", string(template.SortByCreatedAt), "created_at, usage_count or name")
	cmd.Flags().String("direction", string(template.SortDesc), "asc or desc")
	cmd.Flags().Int("limit", template.DefaultLimit, "Page size (max 100)")
	cmd.Flags().Int("offset", 0, "Page offset")
	return cmd
}

func templatesShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			render, _ := cmd.Flags().GetBool("render")
			style, _ := cmd.Flags().GetString("style")

			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				t, err := s.store.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				printTemplate(s.out, t)
				fmt.Fprintln(s.out)

				if !render {
					fmt.Fprintln(s.out, t.Structure)
					return nil
				}
				out, err := renderMarkdown(t.Structure, style)
				if err != nil {
					return err
				}
				fmt.Fprint(s.out, out)
				return nil
			})
		},
	}
	cmd.Flags().Bool("render", false, "Render the structure as markdown")
	cmd.Flags().String("style", "auto", "Render style: auto, dark, light or notty")
	return cmd
}

func renderMarkdown(md, style string) (string, error) {
	styleOption := glamour.WithAutoStyle()
	if style != "" && style != "auto" {
		styleOption = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(styleOption, glamour.WithWordWrap(80))
	if err != nil {
		return "", fmt.Errorf("creating renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return "", fmt.Errorf("rendering structure: %w", err)
	}
	return out, nil
}

func templatesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			file, _ := cmd.Flags().GetString("structure-file")
			notes, _ := cmd.Flags().GetString("notes")

			structure, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				t, err := s.store.CreateTemplate(ctx, template.CreateRequest{Name: name, Structure: structure, Notes: notes})
				if err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Created %q (%s). %d slot(s) remaining.\n", t.Name, t.ID, s.store.Snapshot().Remaining())
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "Template name")
	cmd.Flags().String("structure-file", "", "File holding the example structure (- for stdin)")
	cmd.Flags().String("notes", "", "Additional guidance")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("structure-file")
	return cmd
}

func templatesUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id|name>",
		Short: "Update a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req template.UpdateRequest
			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				req.Name = &name
			}
			if cmd.Flags().Changed("notes") {
				notes, _ := cmd.Flags().GetString("notes")
				req.Notes = &notes
			}
			if cmd.Flags().Changed("structure-file") {
				file, _ := cmd.Flags().GetString("structure-file")
				structure, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				req.Structure = &structure
			}

			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				t, err := s.store.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				updated, err := s.store.UpdateTemplate(ctx, t.ID, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Updated %q (%s).\n", updated.Name, updated.ID)
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "New name")
	cmd.Flags().String("structure-file", "", "File holding the new structure (- for stdin)")
	cmd.Flags().String("notes", "", "New notes")
	return cmd
}

func templatesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				t, err := s.store.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				if err := s.store.DeleteTemplate(ctx, t.ID); err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Deleted %q.\n", t.Name)
				return nil
			})
		},
	}
}

func templatesUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id|name>",
		Short: "Print the report instruction for a template and record the usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				t, err := s.store.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				instruction, err := s.store.UseTemplate(ctx, t.ID)
				if err != nil {
					return err
				}
				fmt.Fprintln(s.out, instruction)
				return nil
			})
		},
	}
}

func templatesStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show template usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				st, err := s.store.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Templates:  %d (%d slot(s) remaining)\n", st.TotalTemplates, st.Remaining)
				fmt.Fprintf(s.out, "Total uses: %d\n", st.TotalUsage)
				if st.MostUsed != nil {
					fmt.Fprintf(s.out, "Most used:  %s (%d)\n", st.MostUsed.Name, st.MostUsed.UsageCount)
				}
				if st.LastUsedAt != nil {
					fmt.Fprintf(s.out, "Last used:  %s\n", st.LastUsedAt.Local().Format(time.RFC3339))
				}
				return nil
			})
		},
	}
}

func templatesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export templates as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				if len(args) == 0 || args[0] == "-" {
					_, err := s.store.Export(ctx, s.out)
					return err
				}
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				n, err := s.store.Export(ctx, f)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(s.out, "Exported %d template(s) to %s\n", n, args[0])
				return nil
			})
		},
	}
}

func templatesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import templates from a YAML export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := template.ReadDocument(f)
			if err != nil {
				return err
			}

			return withSession(cmd, true, func(ctx context.Context, s *session) error {
				report, err := s.store.Import(ctx, doc)
				if report != nil {
					for _, t := range report.Created {
						fmt.Fprintf(s.out, "created  %s\n", t.Name)
					}
					for _, issue := range report.Skipped {
						fmt.Fprintf(s.out, "skipped  %s: %s\n", issue.Name, cliError(issue.Err))
					}
					fmt.Fprintf(s.out, "\n%d created, %d skipped\n", len(report.Created), len(report.Skipped))
				}
				return err
			})
		},
	}
}

func templatesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Check whether a structure reads like a medical report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			structure, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				ok, err := s.api.Check(ctx, structure)
				if err != nil {
					return err
				}
				if ok {
					fmt.Fprintln(s.out, "Looks like a medical report structure.")
				} else {
					fmt.Fprintln(s.out, "No medical terms found; the template will still be accepted.")
				}
				return nil
			})
		},
	}
}
