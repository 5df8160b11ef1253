package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-pagecrypt/pkg/cipherconfig"
	"github.com/dd0wney/cluso-pagecrypt/pkg/codec"
	"github.com/dd0wney/cluso-pagecrypt/pkg/logging"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FF00"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF0000"))
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	var err error
	switch command {
	case "ciphers":
		err = cmdCiphers()
	case "params":
		err = cmdParams(args)
	case "info":
		err = cmdInfo(args)
	case "salt":
		err = cmdSalt(args)
	case "rekey":
		err = cmdRekey(args)
	case "help", "--help", "-h":
		printUsage()
	case "version", "--version", "-v":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func printUsage() {
	usage := `PageCrypt CLI - Page-level database encryption tools

Usage:
  pagecrypt <command> [options]

Available Commands:
  ciphers               List the built-in cipher catalog
  params <cipher>       Show the parameter table of a cipher family
  info <dsn>            Show database file encryption details
  salt <dsn>            Print the key derivation salt (--raw FILE for bytes)
  rekey <dsn>           Re-encrypt a database under a new passphrase
  help                  Show this help message
  version               Show version information

Flags:
  --key PASS            Passphrase for opening an encrypted database
  --new-key PASS        New passphrase for rekey (empty decrypts)
  --cipher NAME         Cipher family for rekey (default: current selection)

Examples:
  pagecrypt ciphers
  pagecrypt params sqlcipher
  pagecrypt info "file:app.db" --key secret
  pagecrypt rekey app.db --key old --new-key new --cipher chacha20
`
	fmt.Print(usage)
}

func printVersion() {
	fmt.Println("PageCrypt CLI v1.0.0")
}

// parseFlags splits positional arguments from --name value / --name=value
// flags.
func parseFlags(args []string) ([]string, map[string]string) {
	positional := []string{}
	flags := map[string]string{}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			positional = append(positional, arg)
			continue
		}
		name := strings.TrimPrefix(arg, "--")
		if eq := strings.Index(name, "="); eq >= 0 {
			flags[name[:eq]] = name[eq+1:]
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			flags[name] = args[i+1]
			i++
		} else {
			flags[name] = ""
		}
	}
	return positional, flags
}

func cmdCiphers() error {
	r := cipherconfig.Global()
	selected, _ := r.SelectedCipher()

	fmt.Println(titleStyle.Render("Built-in cipher catalog"))
	fmt.Printf("%s\n", headerStyle.Render(fmt.Sprintf("%-5s %-12s %s", "IDX", "NAME", "")))
	for i, name := range r.CipherNames() {
		line := fmt.Sprintf("%-5d %-12s", i+1, name)
		if i+1 == selected {
			line = selectedStyle.Render(line + " (selected)")
		}
		fmt.Println(line)
	}
	return nil
}

func cmdParams(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pagecrypt params <cipher>")
	}
	r := cipherconfig.Global()
	cipherName := args[0]
	names, ok := r.ParamNames(cipherName)
	if !ok {
		return fmt.Errorf("unknown cipher %q", cipherName)
	}

	fmt.Println(titleStyle.Render("Parameters for " + cipherName))
	fmt.Println(headerStyle.Render(fmt.Sprintf("%-22s %12s %12s %12s %12s", "NAME", "VALUE", "DEFAULT", "MIN", "MAX")))
	for _, name := range names {
		value, err := r.GetCipherParam(cipherName, name)
		if err != nil {
			continue
		}
		dflt, _ := r.GetCipherParam(cipherName, "default:"+name)
		min, _ := r.GetCipherParam(cipherName, "min:"+name)
		max, _ := r.GetCipherParam(cipherName, "max:"+name)
		fmt.Printf("%-22s %12d %12d %12d %12s\n", name, value, dflt, min, formatBound(max))
	}
	return nil
}

// formatBound keeps huge sentinel maxima readable.
func formatBound(v int) string {
	if v >= 1<<31-1 {
		return "unbounded"
	}
	return strconv.Itoa(v)
}

func cmdInfo(args []string) error {
	positional, flags := parseFlags(args)
	if len(positional) < 1 {
		return fmt.Errorf("usage: pagecrypt info <dsn> [--key PASS]")
	}
	conn, err := openConn(positional[0], flags)
	if err != nil {
		return err
	}
	defer conn.Close()

	encrypted, _ := conn.IsEncrypted("")
	pages, _ := conn.PageCount("")
	usable, _ := conn.UsablePageSize("")
	cipherName, _ := conn.CipherName("")

	fmt.Println(titleStyle.Render("Database: " + positional[0]))
	fmt.Printf("%-16s %v\n", "Encrypted:", encrypted)
	if encrypted {
		fmt.Printf("%-16s %s\n", "Cipher:", cipherName)
	}
	fmt.Printf("%-16s %d\n", "Data pages:", pages)
	fmt.Printf("%-16s %d bytes\n", "Usable/page:", usable)
	return nil
}

func cmdSalt(args []string) error {
	positional, flags := parseFlags(args)
	if len(positional) < 1 {
		return fmt.Errorf("usage: pagecrypt salt <dsn> [--key PASS]")
	}
	conn, err := openConn(positional[0], flags)
	if err != nil {
		return err
	}
	defer conn.Close()

	salt := codec.CodecData(conn, "", "cipher_salt")
	if salt == nil {
		return fmt.Errorf("database is not encrypted")
	}
	if out, ok := flags["raw"]; ok && out != "" {
		raw := codec.CodecData(conn, "", "raw:cipher_salt")
		if err := os.WriteFile(out, raw, 0o600); err != nil {
			return err
		}
		fmt.Println("Raw salt written to " + out)
		return nil
	}
	fmt.Println(string(salt))
	return nil
}

func cmdRekey(args []string) error {
	positional, flags := parseFlags(args)
	if len(positional) < 1 {
		return fmt.Errorf("usage: pagecrypt rekey <dsn> --key OLD --new-key NEW [--cipher NAME]")
	}
	conn, err := openConn(positional[0], flags)
	if err != nil {
		return err
	}
	defer conn.Close()

	if name, ok := flags["cipher"]; ok && name != "" {
		if _, err := conn.Registry().SetCipherByName(name, false); err != nil {
			return err
		}
	}
	newKey := flags["new-key"]
	if err := conn.Rekey("", newKey); err != nil {
		return err
	}
	if newKey == "" {
		fmt.Println(selectedStyle.Render("Database decrypted to plaintext"))
	} else {
		_, cipherName := conn.Registry().SelectedCipher()
		fmt.Println(selectedStyle.Render("Database rekeyed with " + cipherName))
	}
	return nil
}

func openConn(dsn string, flags map[string]string) (*codec.Connection, error) {
	opts := []codec.Option{codec.WithLogger(logging.NewDefaultLogger())}
	if key, ok := flags["key"]; ok && key != "" {
		opts = append(opts, codec.WithPassphrase(key))
	}
	return codec.Open(dsn, opts...)
}
