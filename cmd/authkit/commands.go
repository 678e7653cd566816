package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/junoyi/authkit"
	"github.com/junoyi/authkit/envelope"
	"github.com/junoyi/authkit/permission"
	"github.com/junoyi/authkit/session"
)

// EnvSessionSecret, when set, seals the on-disk session.
const EnvSessionSecret = "AUTHKIT_SESSION_SECRET"

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parse(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func runCheck(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("check", stderr)
	grants := fs.StringArrayP("grant", "g", nil, "granted permission pattern (repeatable; prefix '-' to deny)")
	roles := fs.IntSlice("roles", nil, "role ids held by the user")
	needRoles := fs.IntSlice("require-roles", nil, "role ids of which the user must hold one")
	if help, err := parse(fs, args); help || err != nil {
		return err
	}

	set := permission.NewSet(*grants)
	denied := false
	for _, required := range fs.Args() {
		ok := set.IsGranted(required)
		if !ok {
			denied = true
		}
		fmt.Fprintf(stdout, "%s\t%s\n", verdict(ok), required)
	}
	if len(*needRoles) > 0 {
		ok := permission.HasAnyRole(*roles, *needRoles...)
		if !ok {
			denied = true
		}
		fmt.Fprintf(stdout, "%s\troles %v\n", verdict(ok), *needRoles)
	}

	if denied {
		return exitError(1)
	}
	return nil
}

func verdict(ok bool) string {
	if ok {
		return "granted"
	}
	return "denied"
}

func codecFlag(fs *pflag.FlagSet) *string {
	return fs.StringP("key", "k", os.Getenv(authkit.EnvPublicKey), "RSA public key, base64 DER or PEM")
}

func runEncrypt(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("encrypt", stderr)
	key := codecFlag(fs)
	if help, err := parse(fs, args); help || err != nil {
		return err
	}

	codec, err := envelope.NewCodecFromString(*key)
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	plain, err := io.ReadAll(stdin)
	if err != nil {
		return err
	}
	sealed, err := codec.EncryptRequest(string(plain))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, sealed)
	return err
}

func runDecrypt(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("decrypt", stderr)
	key := codecFlag(fs)
	if help, err := parse(fs, args); help || err != nil {
		return err
	}

	codec, err := envelope.NewCodecFromString(*key)
	if err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	raw, err := io.ReadAll(stdin)
	if err != nil {
		return err
	}
	plain, err := codec.DecryptResponse(strings.TrimSpace(string(raw)))
	if err != nil {
		return err
	}
	_, err = io.WriteString(stdout, plain)
	return err
}

// clientFlags are shared by the commands that talk to the API.
type clientFlags struct {
	config     string
	sessionDir string
	timeout    time.Duration
	verbose    bool
}

func (f *clientFlags) add(fs *pflag.FlagSet) {
	fs.StringVarP(&f.config, "config", "c", "", "YAML config file (AUTHKIT_* variables override it)")
	fs.StringVar(&f.sessionDir, "session-dir", "", "directory for the persisted session (default: config session.dir or ~/.authkit)")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "overall command timeout")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
}

func (f *clientFlags) client(stderr io.Writer) (*authkit.Client, error) {
	cfg := authkit.DefaultConfig()
	if f.config != "" {
		loaded, err := authkit.LoadConfigFile(f.config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := authkit.ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	dir := f.sessionDir
	if dir == "" {
		dir = cfg.Session.Dir
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = home + string(os.PathSeparator) + ".authkit"
	}

	var sealer *session.Sealer
	if secret := os.Getenv(EnvSessionSecret); secret != "" {
		s, err := session.NewSealer([]byte(secret), session.DefaultSealerConfig())
		if err != nil {
			return nil, err
		}
		sealer = s
	}
	store, err := session.NewFileStore(dir, sealer)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if f.verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	return authkit.New().
		WithConfig(cfg).
		WithLogger(logger).
		WithStore(store).
		WithNotifier(authkit.NotifierFunc(func(n authkit.Notification) {
			if n.Level != authkit.NotifySuccess {
				fmt.Fprintf(stderr, "%s: %s\n", n.Level, n.Message)
			}
		})).
		Build()
}

func runLogin(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("login", stderr)
	var cf clientFlags
	cf.add(fs)
	user := fs.StringP("user", "u", "", "user name")
	password := fs.StringP("password", "p", "", "password")
	if help, err := parse(fs, args); help || err != nil {
		return err
	}
	if *user == "" {
		return errors.New("--user is required")
	}

	c, err := cf.client(stderr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
	defer cancel()

	if err := c.Login(ctx, authkit.Credentials{UserName: *user, Password: *password}); err != nil {
		return err
	}
	p, err := c.LoadProfile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "signed in as %s (id %d, %d permissions)\n", p.UserName, p.UserID, len(p.Permissions))
	return nil
}

func runGet(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("get", stderr)
	var cf clientFlags
	cf.add(fs)
	params := fs.StringToString("param", nil, "query parameter key=value (repeatable)")
	if help, err := parse(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("get takes exactly one path")
	}

	c, err := cf.client(stderr)
	if err != nil {
		return err
	}
	defer c.Close()
	if !c.Authenticated() {
		return authkit.ErrNotAuthenticated
	}

	ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
	defer cancel()

	resp, err := c.Get(ctx, fs.Arg(0), *params)
	if err != nil {
		return err
	}

	out := resp.Body
	if resp.HasEnvelope {
		out = resp.Data
	}
	var pretty any
	if json.Unmarshal(out, &pretty) == nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(pretty)
	}
	_, err = stdout.Write(out)
	return err
}

func runLogout(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("logout", stderr)
	var cf clientFlags
	cf.add(fs)
	if help, err := parse(fs, args); help || err != nil {
		return err
	}

	c, err := cf.client(stderr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cf.timeout)
	defer cancel()
	if err := c.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "signed out")
	return nil
}
