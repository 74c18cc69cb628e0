package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/splax/pagesmith/internal/service/deploy"
	apiclient "github.com/splax/pagesmith/pkg/api/client"
)

func (c *cli) loginCmd() *cobra.Command {
	var (
		email    string
		password string
		signup   bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store an access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(email) == "" {
				return errors.New("--email is required")
			}
			secret := password
			if secret == "" {
				fmt.Fprint(c.out, "Password: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(c.out)
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				secret = string(raw)
			}

			api, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()

			var resp *apiclient.AuthResponse
			if signup {
				resp, err = api.Signup(ctx, email, secret)
			} else {
				resp, err = api.Login(ctx, email, secret)
			}
			if err != nil {
				return err
			}
			if err := c.saveSession(c.v.GetString(keyAPIBaseURL), resp.Token.AccessToken); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			fmt.Fprintf(c.out, "logged in as %s (token expires %s)\n", resp.User.Email, resp.Token.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	cmd.Flags().BoolVar(&signup, "signup", false, "create the account first")
	return cmd
}

func (c *cli) generateCmd() *cobra.Command {
	var (
		req    apiclient.GenerateRequest
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a website from a prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			req.Prompt = strings.Join(args, " ")
			ctx, cancel := c.context()
			defer cancel()

			res, err := api.Generate(ctx, token, req)
			if err != nil {
				return err
			}
			if res.Project != nil {
				fmt.Fprintf(c.out, "project %s (%s) saved\n", res.Project.ID, res.Project.Slug)
			} else {
				fmt.Fprintln(c.out, "preview generated")
			}
			fmt.Fprintf(c.out, "model %s, %d tokens, %d images, %s\n", res.Model, res.TokensUsed, len(res.Images), res.Duration.Round(time.Millisecond))
			for _, msg := range res.ParseErrors {
				fmt.Fprintf(c.out, "warning: %s\n", msg)
			}
			if outDir == "" {
				return nil
			}
			return writeArtifact(outDir, res.Artifact.Markup, res.Artifact.CSS, res.Artifact.JS)
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.ProjectID, "project", "", "regenerate into an existing project")
	f.StringVar(&req.Name, "name", "", "project name")
	f.StringVar(&req.Framework, "framework", "", "css framework (tailwind, bootstrap, vanilla, panda, uno)")
	f.StringVar(&req.Language, "language", "", "site language (id or en)")
	f.StringVar(&req.StyleHints, "style", "", "style hints")
	f.StringVar(&req.BusinessType, "business", "", "business type")
	f.StringSliceVar(&req.Sections, "section", nil, "sections to include")
	f.StringVar(&req.Model, "model", "", "model override")
	f.BoolVar(&req.MirrorImages, "mirror-images", false, "mirror images to object storage")
	f.BoolVar(&req.PWA, "pwa", false, "emit PWA assets on deploy")
	f.StringVar(&req.Subdomain, "subdomain", "", "custom subdomain")
	f.BoolVar(&req.Preview, "preview", false, "generate without saving")
	f.StringVar(&outDir, "out", "", "write markup, css and js into this directory")
	return cmd
}

func (c *cli) projectsCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			projects, err := api.Projects(ctx, token, limit, offset)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSLUG\tSTATUS\tURL\tUPDATED")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Slug, p.Status, dash(p.DeploymentURL), p.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of projects")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of projects to skip")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "delete <project>",
			Short: "Delete an undeployed project",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				api, token, err := c.session()
				if err != nil {
					return err
				}
				ctx, cancel := c.context()
				defer cancel()
				if err := api.DeleteProject(ctx, token, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "project deleted")
				return nil
			},
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Show project totals",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				api, token, err := c.session()
				if err != nil {
					return err
				}
				ctx, cancel := c.context()
				defer cancel()
				st, err := api.ProjectStats(ctx, token)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%d projects (%d deployed, %d drafts), %d generations\n", st.TotalProjects, st.Deployed, st.Drafts, st.TotalGenerations)
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) deployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <project>",
		Short: "Deploy a project to the hosting provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			res, err := api.Deploy(ctx, token, args[0])
			if err != nil {
				return err
			}
			c.printResult(res)
			return nil
		},
	}
}

func (c *cli) rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <project> [deployment]",
		Short: "Restore a previous deployment",
		Long:  "Restore a previous deployment. Without a deployment id the one before the current deployment is restored.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			target := ""
			if len(args) == 2 {
				target = args[1]
			}
			ctx, cancel := c.context()
			defer cancel()
			res, err := api.Rollback(ctx, token, args[0], target)
			if err != nil {
				return err
			}
			c.printResult(res)
			return nil
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <project>",
		Short: "List deployments, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			deployments, err := api.Deployments(ctx, token, args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSOURCE\tCURRENT\tURL\tCREATED")
			for _, d := range deployments {
				current := ""
				if d.IsCurrent {
					current = "*"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Source, current, d.URL, d.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project>",
		Short: "Show deploy state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			st, err := api.Status(ctx, token, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "state:       %s\n", st.State)
			fmt.Fprintf(c.out, "url:         %s\n", dash(st.URL))
			fmt.Fprintf(c.out, "deployment:  %s\n", dash(st.LastDeploymentID))
			if st.LastDeployedAt != nil {
				fmt.Fprintf(c.out, "deployed at: %s\n", st.LastDeployedAt.Format(time.RFC3339))
			}
			if st.Stage != "" {
				fmt.Fprintf(c.out, "last step:   %s (%s) %s\n", st.Stage, st.StageStatus, st.Message)
			}
			return nil
		},
	}
}

func (c *cli) domainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domain <project> <hostname>",
		Short: "Attach a custom hostname",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			binding, err := api.SetupDomain(ctx, token, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s is %s\n", binding.Hostname, binding.Status)
			fmt.Fprintf(c.out, "create a CNAME record: %s -> %s\n", binding.Hostname, binding.CNAMETarget)
			return nil
		},
	}
}

func (c *cli) undeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undeploy <project>",
		Short: "Delete the remote hosting project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			if err := api.Undeploy(ctx, token, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "project undeployed")
			return nil
		},
	}
}

func (c *cli) logsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <project>",
		Short: "Show recent project logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			entries, err := api.Logs(ctx, token, args[0], limit, 0)
			if err != nil {
				return err
			}
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				fmt.Fprintf(c.out, "%s %-5s [%s] %s\n", e.CreatedAt.Format(time.RFC3339), strings.ToUpper(e.Level), e.Source, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries")
	return cmd
}

func (c *cli) analyticsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "analytics [project]",
		Short: "Show web traffic for a project, or totals across projects",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, token, err := c.session()
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			if len(args) == 0 {
				totals, err := api.AnalyticsTotals(ctx, token, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "%s to %s: %d visits, %d page views across %d projects\n",
					totals.Since.Format(time.DateOnly), totals.Until.Format(time.DateOnly),
					totals.TotalVisits, totals.TotalPageViews, totals.Projects)
				if totals.Unavailable > 0 {
					fmt.Fprintf(c.out, "%d projects could not be read\n", totals.Unavailable)
				}
				return nil
			}
			summary, err := api.Analytics(ctx, token, args[0], days)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s to %s: %d visits, %d page views\n",
				summary.Since.Format(time.DateOnly), summary.Until.Format(time.DateOnly),
				summary.TotalVisits, summary.TotalPageViews)
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tVISITS\tVIEWS")
			for _, p := range summary.TopPages {
				fmt.Fprintf(tw, "%s\t%d\t%d\n", p.Path, p.Visits, p.PageViews)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, d := range summary.Devices {
				fmt.Fprintf(c.out, "%s: %d\n", d.Type, d.Visits)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "days to include (server default 7, max 90)")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "enable <project>",
			Short: "Register a web analytics site for a deployed project",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				api, token, err := c.session()
				if err != nil {
					return err
				}
				ctx, cancel := c.context()
				defer cancel()
				site, err := api.EnableAnalytics(ctx, token, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "analytics enabled for %s (site %s)\n", site.Host, site.SiteTag)
				if site.Created {
					fmt.Fprintln(c.out, "redeploy to install the beacon")
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "disable <project>",
			Short: "Remove the project's web analytics site",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				api, token, err := c.session()
				if err != nil {
					return err
				}
				ctx, cancel := c.context()
				defer cancel()
				if err := api.DisableAnalytics(ctx, token, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "analytics disabled")
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Inspect model API keys",
	}
	keys.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show key usage and cooldowns",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				api, token, err := c.session()
				if err != nil {
					return err
				}
				ctx, cancel := c.context()
				defer cancel()
				report, err := api.Keys(ctx, token)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tKEY\tREQUESTS\tUSABLE\tCOOLDOWN")
				for _, k := range report.Keys {
					cooldown := "-"
					if k.CooldownSeconds > 0 {
						cooldown = (time.Duration(k.CooldownSeconds) * time.Second).String()
					}
					fmt.Fprintf(tw, "%d\t%s\t%d\t%t\t%s\n", k.ID, k.Preview, k.RequestsToday, k.Usable, cooldown)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				s := report.Stats
				fmt.Fprintf(c.out, "%d/%d usable, %d requests on %s\n", s.Usable, s.Keys, s.RequestsToday, s.Day)
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset <id>",
			Short: "Clear a key's cooldown",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid key id %q", args[0])
				}
				api, token, err := c.session()
				if err != nil {
					return err
				}
				ctx, cancel := c.context()
				defer cancel()
				if err := api.ResetKey(ctx, token, id); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "key %d reset\n", id)
				return nil
			},
		},
	)
	return keys
}

func (c *cli) printResult(res *deploy.Result) {
	fmt.Fprintf(c.out, "%s deployment %s live at %s\n", res.Source, res.DeploymentID, res.URL)
	if res.Hostname != "" {
		fmt.Fprintf(c.out, "custom domain: %s\n", res.Hostname)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(c.out, "warning: %s\n", w)
	}
}

func writeArtifact(dir, markup, css, js string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	files := map[string]string{"body.html": markup, "styles.css": css, "script.js": js}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
