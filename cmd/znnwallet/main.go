package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.zenon.tools/znnwallet/api"
	"go.zenon.tools/znnwallet/build"
	"go.zenon.tools/znnwallet/config"
	"go.zenon.tools/znnwallet/plasma"
	"go.zenon.tools/znnwallet/types"
	"golang.org/x/term"
	"lukechampine.com/flagg"
)

const (
	rootUsage = `Usage:
    znnwallet [flags] [action]

Run 'znnwallet' with no arguments to print the wallet status.

Actions:
    version      print znnwallet version
    status       print the wallet status
    init         create a new wallet
    restore      restore a wallet from its mnemonic
    unlock       unlock the wallet
    lock         lock the wallet
    accounts     list or add wallet accounts
    check        check that the unlocked wallet owns the configured address
    autoreceiver print the auto-receiver status
    balance      print the balances of an address
    plasma       print the plasma of an address
    fuse         generate plasma for an address
    fusions      list the fusions of an address
    expiration   print when the plasma-bot fusion of an address expires
    received     list received account blocks
    unreceived   list unreceived account blocks
    receive      receive an account block
    validate     validate an address
    send         send a transfer, generating plasma if needed
    run          unlock the wallet and make sure the address has plasma`

	versionUsage = `Usage:
    znnwallet version

Prints the version of the znnwallet binary.
`
	statusUsage = `Usage:
    znnwallet status

Prints whether the wallet is initialized and unlocked.
`
	initUsage = `Usage:
    znnwallet init

Creates a new wallet encrypted with the wallet secret and prints its
mnemonic.
`
	restoreUsage = `Usage:
    znnwallet restore

Restores a wallet from the configured mnemonic, encrypted with the wallet
secret.
`
	unlockUsage = `Usage:
    znnwallet unlock

Unlocks the wallet with the wallet secret.
`
	lockUsage = `Usage:
    znnwallet lock

Locks the wallet.
`
	accountsUsage = `Usage:
    znnwallet accounts [flags]

Lists the accounts of the wallet.
`
	checkUsage = `Usage:
    znnwallet check

Checks that the first account of the unlocked wallet is the configured
address.
`
	autoReceiverUsage = `Usage:
    znnwallet autoreceiver

Prints the status of the daemon's auto-receiver.
`
	balanceUsage = `Usage:
    znnwallet balance [address]

Prints the balances of an address. Defaults to the configured address.
`
	plasmaUsage = `Usage:
    znnwallet plasma [flags] [address]

Prints the plasma of an address. Defaults to the configured address.
`
	fuseUsage = `Usage:
    znnwallet fuse [flags] [address]

Asks the plasma-bot to generate plasma for an address. Defaults to the
configured address.
`
	fusionsUsage = `Usage:
    znnwallet fusions [address]

Lists the QSR fusions of an address.
`
	expirationUsage = `Usage:
    znnwallet expiration [address]

Prints when the plasma-bot fusion of an address expires.
`
	receivedUsage = `Usage:
    znnwallet received [flags] [address]

Lists the account blocks received by an address.
`
	unreceivedUsage = `Usage:
    znnwallet unreceived [flags] [address]

Lists the account blocks sent to an address that have not been received.
`
	receiveUsage = `Usage:
    znnwallet receive <hash>

Receives an account block into the configured address.
`
	validateUsage = `Usage:
    znnwallet validate <address>

Asks the daemon whether an address is valid.
`
	sendUsage = `Usage:
    znnwallet send [flags] <receiver>

Sends a transfer from the configured address. If the receiver has no plasma,
plasma is generated through the plasma-bot and awaited before sending. Failed
attempts are retried with a fixed backoff.
`
	runUsage = `Usage:
    znnwallet run [flags]

Unlocks the wallet if it is locked, checks that it owns the configured
address, and generates plasma for the address if it has none.
`
)

var cfg = config.Config{
	API: config.API{
		URL: "http://127.0.0.1",
	},
	Plasma: config.Plasma{
		Timeout:  plasma.DefaultTimeout,
		Interval: plasma.DefaultInterval,
		Attempts: plasma.DefaultAttempts,
		Backoff:  plasma.DefaultBackoff,
	},
	Log: config.Log{
		Level: "info",
		File: config.LogFile{
			Format: "json",
		},
		StdOut: config.StdOut{
			Enabled:    true,
			Format:     "human",
			EnableANSI: runtime.GOOS != "windows",
		},
	},
}

func check(context string, err error) {
	if err != nil {
		log.Fatalf("%v: %v", context, err)
	}
}

// readPasswordInput reads a password from stdin.
func readPasswordInput(context string) string {
	fmt.Printf("%s: ", context)
	input, err := term.ReadPassword(int(os.Stdin.Fd()))
	check("failed to read password input", err)
	fmt.Println()
	return string(input)
}

func getAPIPassword() string {
	if cfg.API.Password == "" && cfg.API.Username != "" {
		cfg.API.Password = readPasswordInput("Enter API password")
	}
	return cfg.API.Password
}

func getWalletSecret() string {
	if cfg.Wallet.Secret == "" {
		cfg.Wallet.Secret = readPasswordInput("Enter wallet secret")
	}
	return cfg.Wallet.Secret
}

// stdoutFatalError prints an error message to stdout and exits with a 1 exit code.
func stdoutFatalError(msg string) {
	stdoutError(msg)
	os.Exit(1)
}

// wrapANSI wraps the output in ANSI escape codes if enabled.
func wrapANSI(prefix, output, suffix string) string {
	if cfg.Log.StdOut.EnableANSI {
		return prefix + output + suffix
	}
	return output
}

// stdoutError prints an error message to stdout
func stdoutError(msg string) {
	fmt.Println(wrapANSI("\033[31m", msg, "\033[0m"))
}

// tryLoadConfig loads the config file specified by ZNNWALLET_CONFIG_FILE,
// then the dotenv file specified by ZNNWALLET_ENV_FILE and the environment.
// Missing files are skipped.
func tryLoadConfig() {
	configPath := "znnwallet.yml"
	if str := os.Getenv("ZNNWALLET_CONFIG_FILE"); str != "" {
		configPath = str
	}
	if err := config.LoadFile(configPath, &cfg); err != nil {
		stdoutFatalError(err.Error())
	}

	envPath := ".env"
	if str := os.Getenv("ZNNWALLET_ENV_FILE"); str != "" {
		envPath = str
	}
	if err := config.LoadEnv(envPath, &cfg); err != nil {
		stdoutFatalError(err.Error())
	}
}

// jsonEncoder returns a zapcore.Encoder that encodes logs as JSON intended for
// parsing.
func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.TimeKey = "timestamp"
	return zapcore.NewJSONEncoder(cfg)
}

// humanEncoder returns a zapcore.Encoder that encodes logs as human-readable
// text.
func humanEncoder(showColors bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	if showColors {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	cfg.StacktraceKey = ""
	cfg.CallerKey = ""
	return zapcore.NewConsoleEncoder(cfg)
}

func parseLogLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		stdoutFatalError(fmt.Sprintf("invalid log level %q", level))
	}
	panic("unreachable")
}

// newLogger builds the logger described by the log config. The returned
// function flushes and closes the log outputs.
func newLogger() (*zap.Logger, func()) {
	var logCores []zapcore.Core
	var closeFns []func()
	if cfg.Log.StdOut.Enabled {
		// if no log level is set for stdout, use the global log level
		if cfg.Log.StdOut.Level == "" {
			cfg.Log.StdOut.Level = cfg.Log.Level
		}

		var encoder zapcore.Encoder
		switch cfg.Log.StdOut.Format {
		case "json":
			encoder = jsonEncoder()
		default: // stdout defaults to human
			encoder = humanEncoder(cfg.Log.StdOut.EnableANSI)
		}

		level := parseLogLevel(cfg.Log.StdOut.Level)
		logCores = append(logCores, zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level))
	}

	if cfg.Log.File.Enabled || cfg.Log.File.Path != "" {
		// if no log level is set for file, use the global log level
		if cfg.Log.File.Level == "" {
			cfg.Log.File.Level = cfg.Log.Level
		}
		if cfg.Log.File.Path == "" {
			cfg.Log.File.Path = "znnwallet.log"
		}

		var encoder zapcore.Encoder
		switch cfg.Log.File.Format {
		case "human":
			encoder = humanEncoder(false) // disable colors in file log
		default: // log file defaults to JSON
			encoder = jsonEncoder()
		}

		fileWriter, closeFn, err := zap.Open(cfg.Log.File.Path)
		if err != nil {
			stdoutFatalError("failed to open log file: " + err.Error())
		}
		closeFns = append(closeFns, closeFn)

		level := parseLogLevel(cfg.Log.File.Level)
		logCores = append(logCores, zapcore.NewCore(encoder, zapcore.Lock(fileWriter), level))
	}

	var log *zap.Logger
	switch len(logCores) {
	case 0:
		log = zap.NewNop()
	case 1:
		log = zap.New(logCores[0], zap.AddCaller())
	default:
		log = zap.New(zapcore.NewTee(logCores...), zap.AddCaller())
	}

	// redirect stdlib log to zap
	zap.RedirectStdLog(log.Named("stdlib"))
	return log, func() {
		log.Sync()
		for _, fn := range closeFns {
			fn()
		}
	}
}

func main() {
	// attempt to load the config file first, command line flags will override
	// any values set in the config file
	tryLoadConfig()

	var (
		addAccounts bool

		waitPlasma bool
		fuseQSR    bool
		cancelID   string

		pageIndex int
		pageSize  int

		sendFrom   string
		sendAmount string
		sendToken  string
		sendOnce   bool
	)

	rootCmd := flagg.Root
	rootCmd.Usage = flagg.SimpleUsage(rootCmd, rootUsage)
	rootCmd.StringVar(&cfg.API.URL, "api", cfg.API.URL, "base URL of the wallet daemon")
	rootCmd.StringVar(&cfg.API.Username, "user", cfg.API.Username, "admin username of the wallet daemon")
	rootCmd.StringVar(&cfg.API.Address, "address", cfg.API.Address, "address of the wallet account")
	rootCmd.StringVar(&cfg.Log.Level, "log.level", cfg.Log.Level, "log level (debug, info, warn, error)")

	versionCmd := flagg.New("version", versionUsage)
	statusCmd := flagg.New("status", statusUsage)
	initCmd := flagg.New("init", initUsage)
	restoreCmd := flagg.New("restore", restoreUsage)
	unlockCmd := flagg.New("unlock", unlockUsage)
	lockCmd := flagg.New("lock", lockUsage)
	accountsCmd := flagg.New("accounts", accountsUsage)
	accountsCmd.BoolVar(&addAccounts, "add", false, "derive new accounts before listing")
	checkCmd := flagg.New("check", checkUsage)
	autoReceiverCmd := flagg.New("autoreceiver", autoReceiverUsage)
	balanceCmd := flagg.New("balance", balanceUsage)
	plasmaCmd := flagg.New("plasma", plasmaUsage)
	plasmaCmd.BoolVar(&waitPlasma, "wait", false, "wait until the address has plasma")
	fuseCmd := flagg.New("fuse", fuseUsage)
	fuseCmd.BoolVar(&fuseQSR, "qsr", false, "fuse QSR from the wallet instead of using the plasma-bot")
	fuseCmd.StringVar(&cancelID, "cancel", "", "cancel the fusion with this id")
	fuseCmd.BoolVar(&waitPlasma, "wait", false, "wait until the address has plasma")
	fusionsCmd := flagg.New("fusions", fusionsUsage)
	expirationCmd := flagg.New("expiration", expirationUsage)
	receivedCmd := flagg.New("received", receivedUsage)
	receivedCmd.IntVar(&pageIndex, "page", 0, "page index")
	receivedCmd.IntVar(&pageSize, "size", api.DefaultReceivedPageSize, "page size")
	unreceivedCmd := flagg.New("unreceived", unreceivedUsage)
	unreceivedCmd.IntVar(&pageIndex, "page", 0, "page index")
	unreceivedCmd.IntVar(&pageSize, "size", api.DefaultUnreceivedPageSize, "page size")
	receiveCmd := flagg.New("receive", receiveUsage)
	validateCmd := flagg.New("validate", validateUsage)
	sendCmd := flagg.New("send", sendUsage)
	sendCmd.StringVar(&sendFrom, "from", "", "sender address, defaults to the configured address")
	sendCmd.StringVar(&sendAmount, "amount", "", "amount to send (default 0.00000001)")
	sendCmd.StringVar(&sendToken, "token", "", "token standard to send (default ZNN)")
	sendCmd.BoolVar(&sendOnce, "once", false, "make a single attempt")
	sendCmd.UintVar(&cfg.Plasma.Attempts, "attempts", cfg.Plasma.Attempts, "number of attempts")
	sendCmd.DurationVar(&cfg.Plasma.Backoff, "backoff", cfg.Plasma.Backoff, "time between attempts")
	sendCmd.DurationVar(&cfg.Plasma.Timeout, "timeout", cfg.Plasma.Timeout, "maximum time to wait for plasma")
	sendCmd.DurationVar(&cfg.Plasma.Interval, "interval", cfg.Plasma.Interval, "time between plasma polls")
	runCmd := flagg.New("run", runUsage)
	runCmd.BoolVar(&waitPlasma, "wait", false, "wait until generated plasma is available")
	runCmd.DurationVar(&cfg.Plasma.Timeout, "timeout", cfg.Plasma.Timeout, "maximum time to wait for plasma")
	runCmd.DurationVar(&cfg.Plasma.Interval, "interval", cfg.Plasma.Interval, "time between plasma polls")

	cmd := flagg.Parse(flagg.Tree{
		Cmd: rootCmd,
		Sub: []flagg.Tree{
			{Cmd: versionCmd},
			{Cmd: statusCmd},
			{Cmd: initCmd},
			{Cmd: restoreCmd},
			{Cmd: unlockCmd},
			{Cmd: lockCmd},
			{Cmd: accountsCmd},
			{Cmd: checkCmd},
			{Cmd: autoReceiverCmd},
			{Cmd: balanceCmd},
			{Cmd: plasmaCmd},
			{Cmd: fuseCmd},
			{Cmd: fusionsCmd},
			{Cmd: expirationCmd},
			{Cmd: receivedCmd},
			{Cmd: unreceivedCmd},
			{Cmd: receiveCmd},
			{Cmd: validateCmd},
			{Cmd: sendCmd},
			{Cmd: runCmd},
		},
	})

	if cmd == versionCmd {
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		fmt.Println(build.String())
		fmt.Println("Commit:", build.Commit())
		fmt.Println("Build Date:", build.Time())
		return
	}

	if err := cfg.Validate(); err != nil {
		stdoutFatalError("invalid config: " + err.Error())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log, closeLog := newLogger()
	defer closeLog()

	var addr types.Address
	if cfg.API.Address != "" {
		var err error
		addr, err = types.ParseAddress(cfg.API.Address)
		check("invalid address", err)
	}

	c := api.NewClient(cfg.API.URL,
		api.WithCredentials(cfg.API.Username, getAPIPassword()),
		api.WithAddress(addr),
		api.WithLogger(log.Named("api")))
	defer c.Close()

	s := plasma.NewSender(c,
		plasma.WithLogger(log.Named("plasma")),
		plasma.WithWait(cfg.Plasma.Timeout, cfg.Plasma.Interval))

	var err error
	switch cmd {
	case rootCmd, statusCmd:
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		err = printStatus(ctx, c)
	case initCmd:
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		var resp api.WalletInitResponse
		resp, err = c.InitWallet(ctx, getWalletSecret())
		if err == nil {
			fmt.Println("Wallet created. Write down the mnemonic, it is the only way to recover the wallet:")
			fmt.Println(resp.Mnemonic)
		}
	case restoreCmd:
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		if cfg.Wallet.Mnemonic == "" {
			cfg.Wallet.Mnemonic = readPasswordInput("Enter mnemonic")
		}
		err = c.RestoreWallet(ctx, getWalletSecret(), cfg.Wallet.Mnemonic)
		if err == nil {
			fmt.Println("Wallet restored")
		}
	case unlockCmd:
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		err = c.UnlockWallet(ctx, getWalletSecret())
		if err == nil {
			fmt.Println("Wallet unlocked")
		}
	case lockCmd:
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		err = c.LockWallet(ctx)
		if err == nil {
			fmt.Println("Wallet locked")
		}
	case accountsCmd:
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		err = printAccounts(ctx, c, addAccounts)
	case checkCmd:
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		err = c.CheckUnlockedAccount(ctx)
		if err == nil {
			fmt.Println("Wallet owns", c.Address())
		}
	case autoReceiverCmd:
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		err = printRaw(c.AutoReceiverStatus(ctx))
	case balanceCmd:
		err = printBalances(ctx, c, addressArg(cmd, c))
	case plasmaCmd:
		err = printPlasma(ctx, c, s, addressArg(cmd, c), waitPlasma)
	case fuseCmd:
		target := addressArg(cmd, c)
		switch {
		case cancelID != "":
			err = printJSON(c.CancelFusion(ctx, target, cancelID))
		case fuseQSR:
			err = printJSON(c.FuseQSR(ctx, target))
		default:
			err = printRaw(s.Generate(ctx, target))
		}
		if err == nil && waitPlasma && cancelID == "" {
			err = s.WaitForPlasma(ctx, target, cfg.Plasma.Timeout, cfg.Plasma.Interval)
		}
	case fusionsCmd:
		err = printJSON(c.FusionEntries(ctx, addressArg(cmd, c)))
	case expirationCmd:
		err = printRaw(c.FusionExpiration(ctx, addressArg(cmd, c)))
	case receivedCmd:
		err = printJSON(c.ReceivedBlocks(ctx, addressArg(cmd, c), pageIndex, pageSize))
	case unreceivedCmd:
		err = printJSON(c.UnreceivedBlocks(ctx, addressArg(cmd, c), pageIndex, pageSize))
	case receiveCmd:
		if len(cmd.Args()) != 1 {
			cmd.Usage()
			return
		}
		err = printJSON(c.Receive(ctx, c.Address(), cmd.Arg(0)))
	case validateCmd:
		if len(cmd.Args()) != 1 {
			cmd.Usage()
			return
		}
		err = printRaw(c.ValidateAddress(ctx, cmd.Arg(0)))
	case sendCmd:
		if len(cmd.Args()) != 1 {
			cmd.Usage()
			return
		}
		req, perr := parseTransfer(sendFrom, cmd.Arg(0), sendAmount, sendToken)
		check("invalid transfer", perr)

		var res plasma.SendResult
		if sendOnce {
			res, err = s.SendWithPlasma(ctx, req)
		} else {
			res, err = s.SendWithRetry(ctx, req, plasma.RetryPolicy{Attempts: cfg.Plasma.Attempts, Backoff: cfg.Plasma.Backoff})
		}
		if err == nil {
			fmt.Println("Transfer sent:", res.Block.Hash)
		}
	case runCmd:
		if len(cmd.Args()) != 0 {
			cmd.Usage()
			return
		}
		opts := runOptions{
			Secret:       cfg.Wallet.Secret,
			PromptSecret: getWalletSecret,
			Wait:         waitPlasma,
			Timeout:      cfg.Plasma.Timeout,
			Interval:     cfg.Plasma.Interval,
		}
		err = runWorkflow(ctx, c, s, opts, log.Named("run"))
	}
	if err != nil {
		closeLog()
		stdoutFatalError(err.Error())
	}
}
