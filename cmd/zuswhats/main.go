package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/benliew10/zuswhats/internal/bot"
	"github.com/benliew10/zuswhats/internal/catalog"
	"github.com/benliew10/zuswhats/internal/claims"
	"github.com/benliew10/zuswhats/internal/conf"
	"github.com/benliew10/zuswhats/internal/event"
	"github.com/benliew10/zuswhats/internal/gmail"
	"github.com/benliew10/zuswhats/internal/ledger"
	"github.com/benliew10/zuswhats/internal/provision"
	"github.com/benliew10/zuswhats/internal/receipt"
	"github.com/benliew10/zuswhats/internal/session"
	"github.com/benliew10/zuswhats/internal/smsactivate"
	"github.com/benliew10/zuswhats/internal/whatsapp"
	"github.com/benliew10/zuswhats/pkg/api"
)

func main() {
	cmd := newBotCommand()
	flag.Parse()
	defer glog.Flush()

	if err := cmd.Execute(); err != nil {
		glog.Fatalln(err)
	}
}

func newBotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zuswhats",
		Short: "WhatsApp OTP number vending bot",
		Long:  `zuswhats sells short-lived SMS verification numbers over WhatsApp, reconciling bank transfers against payment notification emails`,
		Run: func(cmd *cobra.Command, args []string) {
			_ = Run()
		},
	}

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)

	return cmd
}

func Run() error {
	conf.Init()

	cat, err := catalog.Load(conf.Config.CatalogPath)
	if err != nil {
		glog.Warningf("failed to load catalog override, using defaults: %v", err)
		cat = catalog.Default()
	}

	sessions := session.NewStore()
	registry := claims.NewRegistry(claims.DefaultTTL)
	paymentLedger := ledger.New(registry, ledger.DefaultEventTTL)

	events, err := event.NewSender()
	if err != nil {
		glog.Warningf("order event publishing disabled: %v", err)
	}

	var receipts *receipt.Store
	if conf.Config.RedisHost != "" {
		receipts, err = receipt.NewStore(conf.Config.RedisHost, conf.Config.RedisPort,
			conf.Config.RedisPassword, conf.Config.RedisDB)
		if err != nil {
			glog.Warningf("receipt storage disabled: %v", err)
		}
	}

	wa := whatsapp.NewClient(conf.Config.WhatsAppToken, conf.Config.WhatsAppPhoneNumberID)
	numbers := smsactivate.NewClient(conf.Config.SMSActivateAPIKey, conf.Config.SMSCountry)

	if balance, err := numbers.GetBalance(); err != nil {
		glog.Warningf("could not fetch sms-activate balance: %v", err)
	} else {
		glog.Infof("sms-activate balance: %s", balance)
	}

	controller := provision.NewController(sessions, numbers, wa, cat).
		WithEvents(events).
		WithReceipts(receipts)

	driver := bot.NewDriver(sessions, registry, paymentLedger, controller, wa, cat,
		conf.Config.ExpectedAmount, conf.Config.BankAccount).
		WithEvents(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := gmail.NewMonitor(gmail.Config{
		CredentialsPath:    conf.Config.GmailCredentialsPath,
		TokenPath:          conf.Config.GmailTokenPath,
		PaymentEmailSender: conf.Config.PaymentEmailSender,
		CheckInterval:      conf.Config.EmailCheckInterval,
	})
	if err := monitor.Connect(); err != nil {
		glog.Warningf("gmail monitoring disabled: %v", err)
	} else {
		go monitor.Start(ctx, driver.OnPaymentObserved)
	}

	server := api.NewServer(conf.Config.ListenPort, conf.Config.VerifyToken, driver, wa)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	glog.Infof("Start listening on :%s", conf.Config.ListenPort)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case runErr = <-errCh:
		glog.Errorf("server stopped: %v", runErr)
	case s := <-sig:
		glog.Infof("received %s, shutting down", s)
	}

	// Both exit paths cancel outstanding pollers and timers before return.
	cancel()
	registry.Stop()
	sessions.Shutdown()
	if err := receipts.Close(); err != nil {
		glog.Warningf("error closing receipt store: %v", err)
	}
	events.Close()

	glog.Info("all modules stopped")
	return runErr
}
