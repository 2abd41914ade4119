package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/service"
)

const timeLayout = time.RFC3339

func parseID(kind, s string) (uuid.UUID, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", kind, s, err)
	}
	return id, nil
}

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("amount must be a positive integer, got %q", s)
	}
	return n, nil
}

// identityFlags selects whose credits or jobs a command acts on.
type identityFlags struct {
	account    string
	guestToken string
	ip         string
}

func (f *identityFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.account, "account", "", "account id")
	cmd.Flags().StringVar(&f.guestToken, "guest-token", "", "guest session token")
	cmd.Flags().StringVar(&f.ip, "ip", "", "client address keying free credits")
}

func (c *cli) resolve(cmd *cobra.Command, f identityFlags) (model.Identity, error) {
	switch {
	case f.account != "":
		id, err := parseID("account", f.account)
		if err != nil {
			return model.Identity{}, err
		}
		if _, err := c.st.Accounts.GetByID(cmd.Context(), id); err != nil {
			return model.Identity{}, fmt.Errorf("account %s: %w", id, err)
		}
		owner, err := model.AccountOwner(id)
		return model.Identity{Owner: owner, IP: f.ip}, err
	case f.guestToken != "":
		res, err := c.svc.Identity.Resolve(cmd.Context(), service.Evidence{GuestToken: f.guestToken, IP: f.ip})
		return res.Identity, err
	}
	return model.Identity{}, errors.New("one of --account or --guest-token is required")
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			c.printf("migrations applied (%s)\n", c.cfg.Store)
			return nil
		},
	}
}

func (c *cli) accountCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Manage accounts"}

	var password string
	create := &cobra.Command{
		Use:   "create EMAIL",
		Short: "Register an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			a, err := c.svc.Auth.Register(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			c.printf("%s\t%s\n", a.ID, a.Email)
			return nil
		},
	}
	create.Flags().StringVar(&password, "password", "", "account password")
	_ = create.MarkFlagRequired("password")

	var loginPassword, ip string
	login := &cobra.Command{
		Use:   "login EMAIL",
		Short: "Issue an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			tok, a, err := c.svc.Auth.Login(cmd.Context(), args[0], loginPassword, ip)
			if err != nil {
				return err
			}
			c.printf("account:  %s\ntoken:    %s\nexpires:  %s\n", a.ID, tok.AccessToken, tok.ExpiresAt.Format(timeLayout))
			return nil
		},
	}
	login.Flags().StringVar(&loginPassword, "password", "", "account password")
	login.Flags().StringVar(&ip, "ip", "127.0.0.1", "client address for rate limiting")
	_ = login.MarkFlagRequired("password")

	cmd.AddCommand(create, login)
	return cmd
}

func (c *cli) balanceCmd() *cobra.Command {
	var f identityFlags
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show free and purchased credits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			id, err := c.resolve(cmd, f)
			if err != nil {
				return err
			}
			bal, err := c.svc.Ledger.Balance(cmd.Context(), id)
			if err != nil {
				return err
			}
			c.printf("free:      %d\npurchased: %d\ntotal:     %d\n", bal.Free, bal.Purchased, bal.Total())
			return nil
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("ip")
	return cmd
}

func (c *cli) grantCmd() *cobra.Command {
	var reason, ref string
	cmd := &cobra.Command{
		Use:   "grant ACCOUNT AMOUNT",
		Short: "Add purchased credits to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := model.Reason(reason)
			if r != model.ReasonBonus && r != model.ReasonAdjustment {
				return fmt.Errorf("reason must be %s or %s", model.ReasonBonus, model.ReasonAdjustment)
			}
			id, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			n, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			bal, err := c.svc.Ledger.Credit(cmd.Context(), id, n, r, ref)
			if err != nil {
				return err
			}
			c.printf("balance: %d\n", bal)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", string(model.ReasonBonus), "bonus | adjustment")
	cmd.Flags().StringVar(&ref, "ref", "", "idempotency reference; a repeated ref is applied once")
	return cmd
}

func (c *cli) refundCmd() *cobra.Command {
	var job string
	cmd := &cobra.Command{
		Use:   "refund ACCOUNT AMOUNT",
		Short: "Refund purchased credits spent on a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			n, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			jobID, err := parseID("job", job)
			if err != nil {
				return err
			}
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			bal, err := c.svc.Ledger.Refund(cmd.Context(), id, n, jobID)
			if err != nil {
				return err
			}
			c.printf("balance: %d\n", bal)
			return nil
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "job the credits were spent on")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history ACCOUNT",
		Short: "List ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			entries, err := c.svc.Ledger.History(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDELTA\tREASON\tREF\tJOB\tCREATED")
			for _, e := range entries {
				job := ""
				if e.JobID != uuid.Nil {
					job = e.JobID.String()
				}
				fmt.Fprintf(tw, "%d\t%+d\t%s\t%s\t%s\t%s\n",
					e.ID, e.Delta, e.Reason, e.ExternalRef, job, e.CreatedAt.Format(timeLayout))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries")
	return cmd
}

func (c *cli) jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job ID",
		Short: "Show a job and its assets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("job", args[0])
			if err != nil {
				return err
			}
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			j, err := c.svc.Jobs.GetStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			assets, err := c.st.Jobs.Assets(cmd.Context(), id)
			if err != nil {
				return err
			}
			c.printf("id:       %s\nowner:    %s\ncategory: %s\nstatus:   %s\ncreated:  %s\n",
				j.ID, j.Owner, j.Category, j.Status, j.CreatedAt.Format(timeLayout))
			if j.ErrorMessage != "" {
				c.printf("error:    %s\n", j.ErrorMessage)
			}
			for _, a := range assets {
				c.printf("%-8s  %s/%s  %s  %d bytes  sha256=%s\n", a.Kind+":", a.Bucket, a.ObjectKey, a.ContentType, a.ByteSize, a.SHA256)
			}
			return nil
		},
	}
}

func (c *cli) jobsCmd() *cobra.Command {
	var (
		f      identityFlags
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List an owner's jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			id, err := c.resolve(cmd, f)
			if err != nil {
				return err
			}
			page, err := c.svc.Jobs.ListByOwner(cmd.Context(), id.Owner, limit, cursor)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tSTATUS\tCREATED")
			for _, j := range page.Jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.Category, j.Status, j.CreatedAt.Format(timeLayout))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if page.NextCursor != "" {
				c.printf("next cursor: %s\n", page.NextCursor)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from the previous page")
	return cmd
}

func (c *cli) submitCmd() *cobra.Command {
	var (
		f           identityFlags
		category    string
		file        string
		contentType string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Spend one credit and queue a generation job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			img, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if contentType == "" {
				contentType = http.DetectContentType(img)
			}
			if err := c.open(cmd.Context(), true); err != nil {
				return err
			}
			id, err := c.resolve(cmd, f)
			if err != nil {
				return err
			}
			j, spent, err := c.svc.Generation.Submit(cmd.Context(), id, service.SubmitRequest{
				Category:    category,
				Image:       img,
				ContentType: contentType,
			})
			if err != nil {
				return err
			}
			c.printf("job:       %s\nstatus:    %s\nfree used: %d\npurchased used: %d\nremaining: %d\n",
				j.ID, j.Status, spent.FreeUsed, spent.PurchasedUsed, spent.Total())
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&category, "category", "portraits", "generation category")
	cmd.Flags().StringVarP(&file, "file", "f", "", "reference image")
	cmd.Flags().StringVar(&contentType, "content-type", "", "image content type (sniffed when empty)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("ip")
	return cmd
}

func (c *cli) packsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "packs",
		Short: "List credit packs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PACK\tCREDITS\tPRICE\tPRICE ID")
			for _, p := range c.svc.Payments.Packs() {
				fmt.Fprintf(tw, "%s\t%d\t%d %s\t%s\n", p.ID, p.Credits, p.AmountTotal, p.Currency, p.PriceID)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout ACCOUNT PACK",
		Short: "Open a provider checkout session for a pack",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("account", args[0])
			if err != nil {
				return err
			}
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			co, err := c.svc.Payments.Checkout(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			c.printf("session: %s\nurl:     %s\n", co.SessionRef, co.RedirectURL)
			return nil
		},
	}
}

func (c *cli) cleanupGuestsCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup-guests",
		Short: "Delete guest sessions not seen within the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.open(cmd.Context(), true); err != nil {
				return err
			}
			if retention == 0 {
				retention = c.cfg.Guests.Retention
			}
			purge, err := c.svc.Identity.CleanupStaleGuests(cmd.Context(), retention)
			if err != nil {
				return err
			}
			c.printf("sessions: %d\njobs:     %d\nobjects:  %d\n", purge.Sessions, purge.Jobs, len(purge.Assets))
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "retention window (config default when 0)")
	return cmd
}

func (c *cli) resetFreeCmd() *cobra.Command {
	var remaining int64
	cmd := &cobra.Command{
		Use:   "reset-free IP",
		Short: "Set the free credits left for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.open(cmd.Context(), false); err != nil {
				return err
			}
			if !cmd.Flags().Changed("remaining") {
				remaining = c.cfg.Credits.FreeDefault
			}
			if err := c.svc.Ledger.ResetFree(cmd.Context(), args[0], remaining); err != nil {
				return err
			}
			c.printf("free credits for %s: %d\n", args[0], remaining)
			return nil
		},
	}
	cmd.Flags().Int64Var(&remaining, "remaining", 0, "free credits to leave (config default when unset)")
	return cmd
}
