package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ozontrans/internal/api"
	"ozontrans/internal/cli"
	"ozontrans/internal/domain"
	"ozontrans/internal/infra"
	"ozontrans/internal/payment"
	"ozontrans/internal/session"
	"ozontrans/internal/storage"
	"ozontrans/internal/translate"
)

const usage = `usage: ozontrans <command> [flags]

commands:
  login      authenticate and store the session credential
  register   create an account and store the session credential
  logout     drop the stored credential
  whoami     show the authenticated identity
  balance    show the remaining credit balance
  translate  submit images, poll until done, download results
  recharge   buy a credit package via the external payment provider
  orders     list recharge history
`

type app struct {
	cfg     *infra.Config
	logger  infra.Logger
	client  *api.Client
	session *session.Session
	store   *session.Store
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ozontrans: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv, os.Getenv("OZONTRANS_QUIET") != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := api.NewClient(api.Options{
		BaseURL:        cfg.APIBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.HTTPTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure api client")
	}

	store, err := session.NewStore(cfg.SessionDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session store")
	}
	defer store.Close()

	sess, err := session.New(ctx, session.Options{
		API:    client,
		Store:  store,
		Logger: &logger,
		OnAuthExpired: func() {
			fmt.Fprintln(os.Stderr, "session expired, run `ozontrans login` again")
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to restore session")
	}

	a := &app{cfg: cfg, logger: logger, client: client, session: sess, store: store}

	var cmdErr error
	switch os.Args[1] {
	case "login":
		cmdErr = a.cmdLogin(ctx, os.Args[2:], false)
	case "register":
		cmdErr = a.cmdLogin(ctx, os.Args[2:], true)
	case "logout":
		cmdErr = a.session.Clear(ctx)
	case "whoami":
		cmdErr = a.cmdWhoami(ctx)
	case "balance":
		cmdErr = a.cmdBalance(ctx)
	case "translate":
		cmdErr = a.cmdTranslate(ctx, os.Args[2:])
	case "recharge":
		cmdErr = a.cmdRecharge(ctx, os.Args[2:])
	case "orders":
		cmdErr = a.cmdOrders(ctx)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if cmdErr != nil {
		if errors.Is(cmdErr, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "ozontrans: %v\n", cmdErr)
		os.Exit(1)
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string, register bool) error {
	name := "login"
	if register {
		name = "register"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	invite := fs.String("invite", "", "invite code (register only)")
	_ = fs.Parse(args)
	if *email == "" || *password == "" {
		return fmt.Errorf("%s requires -email and -password", name)
	}

	var (
		result *api.AuthResult
		err    error
	)
	if register {
		result, err = a.client.Register(ctx, *email, *password, *invite)
	} else {
		result, err = a.client.Login(ctx, *email, *password)
	}
	if err != nil {
		return err
	}
	if err := a.session.SetCredential(ctx, result.Token, result.Credits); err != nil {
		return err
	}
	fmt.Printf("logged in as %s, %d credits remaining\n", *email, result.Credits)
	return nil
}

func (a *app) cmdWhoami(ctx context.Context) error {
	token, ok := a.session.Credential()
	if !ok {
		return errors.New("not logged in")
	}
	me, err := a.client.Me(ctx, token)
	if err != nil {
		a.session.NoteAuthFailure(ctx, err)
		return err
	}
	fmt.Printf("%s (%d credits", me.Email, me.Credits)
	if me.IsAdmin {
		fmt.Print(", admin")
	}
	fmt.Println(")")
	return nil
}

func (a *app) cmdBalance(ctx context.Context) error {
	if _, ok := a.session.Credential(); !ok {
		return errors.New("not logged in")
	}
	if err := a.session.Refresh(ctx); err != nil {
		return err
	}
	credits, _ := a.session.Balance()
	fmt.Printf("%d credits remaining\n", credits)
	return nil
}

func (a *app) cmdTranslate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("translate", flag.ExitOnError)
	modeFlag := fs.String("mode", "original", "output mode: original or fixed-aspect")
	outDir := fs.String("out", a.cfg.DownloadDir, "directory for translated images")
	asZip := fs.Bool("zip", false, "bundle results into one zip archive")
	interval := fs.Duration("poll-interval", a.cfg.PollInterval, "status poll interval")
	maxAttempts := fs.Int("poll-attempts", a.cfg.PollMaxAttempts, "maximum status polls before giving up")
	_ = fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		return errors.New("translate requires at least one image file")
	}

	mode := parseMode(*modeFlag)
	files := make([]api.FileUpload, 0, len(paths))
	handles := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range handles {
			f.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		handles = append(handles, f)
		files = append(files, api.FileUpload{Name: filepath.Base(p), Data: f})
	}

	submitter := translate.NewSubmitter(a.client, a.session, &a.logger)
	job, err := submitter.Submit(ctx, mode, files)
	if err != nil {
		return err
	}
	fmt.Printf("submitted %d files (%s), task %s\n", job.Total, cli.ModeLabel(mode), job.ID)

	// Keep the balance reconciled with server-side deductions while the
	// job runs.
	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	go a.session.RunRefreshLoop(loopCtx, a.cfg.RefreshInterval)

	poller := translate.NewPoller(translate.PollerOptions{
		API:         a.client,
		Logger:      &a.logger,
		Interval:    *interval,
		MaxAttempts: *maxAttempts,
		OnProgress: func(p translate.Progress) {
			fmt.Printf("\r%s... %d/%d", cli.StatusLabel(p.Status), p.Processed, p.Total)
		},
	})
	err = poller.Run(ctx, job)
	fmt.Println()
	if err != nil {
		if errors.Is(err, domain.ErrPollTimeout) || errors.Is(err, domain.ErrJobFailed) {
			return fmt.Errorf("%v: %s", err, job.ErrorMessage)
		}
		return err
	}

	summary, err := translate.Summarize(job)
	if err != nil {
		return err
	}
	fmt.Printf("done: %d succeeded, %d failed\n", summary.Success, summary.Failed)
	for _, o := range job.Outcomes {
		fmt.Println("  " + cli.OutcomeLabel(o))
	}
	if summary.Success == 0 {
		return nil
	}

	store, err := storage.NewFileStore(*outDir)
	if err != nil {
		return err
	}
	downloader := translate.NewDownloader(a.client, store, &a.logger, translate.DefaultDownloadStagger)
	if *asZip {
		archive, err := downloader.Archive(ctx, job)
		if err != nil {
			return err
		}
		key, err := store.Write(ctx, job.ID+".zip", archive)
		if err != nil {
			return err
		}
		fmt.Printf("archive written to %s\n", store.Path(key))
		return nil
	}
	saved, err := downloader.DownloadAll(ctx, job)
	for _, s := range saved {
		fmt.Printf("saved %s (%d bytes)\n", store.Path(s.Key), s.Bytes)
	}
	return err
}

func (a *app) cmdRecharge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recharge", flag.ExitOnError)
	packageID := fs.String("package", "", "credit package id")
	listen := fs.String("listen", a.cfg.ReturnListen, "loopback address for the payment return redirect")
	returnURL := fs.String("return-url", "", "resolve an already-received provider redirect URL instead of listening")
	wait := fs.Duration("wait", 10*time.Minute, "how long to wait for the provider redirect")
	_ = fs.Parse(args)

	packages, err := payment.LoadPackages(a.cfg.PackagesPath)
	if err != nil {
		return err
	}

	resolver := payment.NewResolver(payment.ResolverOptions{
		API:     a.client,
		Session: a.session,
		Logger:  &a.logger,
	})

	// A pasted redirect resolves directly, mirroring a page load that
	// already carries the trade parameters.
	if *returnURL != "" {
		u, err := url.Parse(*returnURL)
		if err != nil {
			return fmt.Errorf("invalid return url: %w", err)
		}
		cleaned, verified := resolver.Resolve(ctx, u)
		if !verified {
			return domain.ErrPaymentVerification
		}
		fmt.Printf("payment verified (safe to bookmark: %s)\n", cleaned)
		return a.cmdBalance(ctx)
	}

	if *packageID == "" {
		fmt.Println("available packages:")
		for _, p := range packages {
			fmt.Printf("  %-12s %5d credits  %8.2f  %s\n", p.ID, p.Credits, p.Price, p.Description)
		}
		return errors.New("recharge requires -package")
	}
	pkg, ok := payment.FindPackage(packages, *packageID)
	if !ok {
		return fmt.Errorf("unknown package %q", *packageID)
	}
	token, ok := a.session.Credential()
	if !ok {
		return errors.New("not logged in")
	}

	order, err := a.client.CreateOrder(ctx, token, pkg.ID)
	if err != nil {
		a.session.NoteAuthFailure(ctx, err)
		return err
	}
	fmt.Printf("order %s created for %s (%d credits)\n", order.OrderID, pkg.Name, pkg.Credits)
	fmt.Printf("open this URL to pay:\n  %s\n", order.PaymentURL)

	listener := payment.NewListener(resolver, &a.logger, *listen)
	fmt.Printf("waiting for the provider redirect on %s\n", listener.ReturnURL())
	waitCtx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()
	verified, err := listener.WaitForReturn(waitCtx)
	if err != nil {
		return err
	}
	if !verified {
		return domain.ErrPaymentVerification
	}
	return a.cmdBalance(ctx)
}

func (a *app) cmdOrders(ctx context.Context) error {
	token, ok := a.session.Credential()
	if !ok {
		return errors.New("not logged in")
	}
	orders, err := a.client.ListOrders(ctx, token)
	if err != nil {
		a.session.NoteAuthFailure(ctx, err)
		return err
	}
	if len(orders) == 0 {
		fmt.Println("no recharge orders")
		return nil
	}
	for _, o := range orders {
		paid := "-"
		if o.PaidAt != nil {
			paid = o.PaidAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %8.2f  %5d credits  %-8s  created %s  paid %s\n",
			o.OutTradeNo, o.Amount, o.Credits, o.Status, o.CreatedAt.Format(time.RFC3339), paid)
	}
	return nil
}

func parseMode(s string) domain.TranslateMode {
	switch s {
	case "fixed-aspect", "3:4", string(domain.ModeFixedAspect):
		return domain.ModeFixedAspect
	case "original", "":
		return domain.ModeOriginal
	}
	return domain.TranslateMode(s)
}
