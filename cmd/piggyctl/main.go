package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"slimhogs/cmd/internal/passphrase"
	"slimhogs/crypto"
	"slimhogs/native/piggy"
	"slimhogs/rpc"
)

const (
	fingerprintCommand = "fingerprint"
	tokenCommand       = "token"
	keygenCommand      = "keygen"

	defaultSecretEnv = "PIGGY_JWT_SECRET"
	defaultPassEnv   = "PIGGY_CUSTODY_PASSPHRASE"
	defaultIssuer    = "piggyctl"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case fingerprintCommand:
		err = runFingerprint(os.Args[2:], os.Stdout)
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case keygenCommand:
		err = runKeygen(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: piggyctl <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  %s   derive the fingerprint of a set of terms\n", fingerprintCommand)
	fmt.Fprintf(os.Stderr, "  %s         mint a caller bearer token for piggyd\n", tokenCommand)
	fmt.Fprintf(os.Stderr, "  %s        create an encrypted custody keystore\n", keygenCommand)
}

func runFingerprint(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(fingerprintCommand, flag.ContinueOnError)
	creator := fs.String("creator", "", "Writer address (0x...)")
	collateral := fs.String("collateral", "", "Collateral token address (0x...)")
	amount := fs.String("amount", "", "Collateral amount")
	lot := fs.String("lot", "1", "Lot size")
	strike := fs.String("strike", "0", "Strike price")
	expiry := fs.Uint64("expiry", 0, "Expiry as a unix timestamp")
	decimals := fs.Uint("decimals", 0, "Decimal scaling applied to the payout")
	european := fs.Bool("european", false, "European exercise (settle only at or after expiry)")
	put := fs.Bool("put", false, "Put instead of call")
	nonce := fs.String("nonce", "0", "Nonce distinguishing otherwise identical terms")
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *decimals > 255 {
		return fmt.Errorf("decimals must fit in a byte")
	}

	terms, err := parseTerms(*creator, *collateral, *amount, *lot, *strike, *nonce)
	if err != nil {
		return err
	}
	terms.Expiry = *expiry
	terms.Decimals = uint8(*decimals)
	terms.European = *european
	terms.Put = *put
	if err := terms.Validate(); err != nil {
		return err
	}

	style := "american"
	if terms.European {
		style = "european"
	}
	kind := "call"
	if terms.Put {
		kind = "put"
	}
	table := tablewriter.NewWriter(out)
	table.Header("Field", "Value")
	table.Append("creator", terms.Creator.Hex())
	table.Append("collateral", terms.Collateral.Hex())
	table.Append("amount", terms.Amount.Dec())
	table.Append("lot size", terms.LotSize.Dec())
	table.Append("strike", terms.Strike.Dec())
	table.Append("expiry", fmt.Sprintf("%d (%s)", terms.Expiry, time.Unix(int64(terms.Expiry), 0).UTC().Format(time.RFC3339)))
	table.Append("decimals", fmt.Sprintf("%d", terms.Decimals))
	table.Append("style", style+" "+kind)
	table.Append("nonce", terms.Nonce.Dec())
	table.Append("fingerprint", piggy.Fingerprint(terms).Hex())
	table.Render()
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	caller := fs.String("caller", "", "Caller address the token authenticates (0x...)")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	issuer := fs.String("issuer", defaultIssuer, "Issuer claim; must match the server Auth.Issuer")
	audience := fs.String("audience", "", "Audience claim")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable holding the HMAC secret")
	envFile := fs.String("env-file", ".env", "Optional dotenv file loaded before reading the secret")
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := loadEnvFile(*envFile); err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(*caller)
	if err != nil {
		return fmt.Errorf("caller: %w", err)
	}
	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return fmt.Errorf("%s is not set", *secretEnv)
	}
	token, err := rpc.IssueToken(secret, *issuer, *audience, addr, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	path := fs.String("out", "custody.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	light := fs.Bool("light-kdf", false, "Use light scrypt parameters (testing only)")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	pass, err := passphrase.NewSource(*passEnv, "custody").Get()
	if err != nil {
		return err
	}
	if *light {
		crypto.UseLightKDF()
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*path, key, pass); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	fmt.Fprintf(out, "CustodyAddress = %q\nCustodyKeystore = %q\n", key.Address().Hex(), *path)
	return nil
}

// loadEnvFile applies a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
