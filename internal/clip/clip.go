// Package clip copies assistant replies to the clipboard, degrading from
// the native clipboard through OSC52 to a temp file so /copy works over SSH
// and in minimal containers.
package clip

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	atotto "github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"golang.org/x/term"
)

// Method is the mechanism that ended up holding the content.
type Method string

const (
	MethodNative Method = "native" // OS clipboard
	MethodOSC52  Method = "osc52"  // terminal escape sequence
	MethodFile   Method = "file"   // temp file fallback
)

// Result reports how the content was made copyable. FilePath is set only
// for MethodFile.
type Result struct {
	Method   Method
	FilePath string
}

// Seams for tests.
var (
	nativeWriteAll = func(text string) error { return atotto.WriteAll(text) }
	osc52WriteAll  = writeAllOSC52
)

// WriteAll copies text, trying native clipboard, then OSC52, then a temp
// file. It fails only when all three do.
func WriteAll(text string) (Result, error) {
	if err := nativeWriteAll(text); err == nil {
		return Result{Method: MethodNative}, nil
	}
	if err := osc52WriteAll(text); err == nil {
		return Result{Method: MethodOSC52}, nil
	}

	path, err := writeTempFile(text)
	if err != nil {
		return Result{}, err
	}
	return Result{Method: MethodFile, FilePath: path}, nil
}

// Terminals commonly cap OSC52 payloads; stay under typical limits.
const osc52LimitBytes = 100_000

func writeAllOSC52(text string) error {
	if text == "" {
		return errors.New("empty clipboard text")
	}
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return errors.New("stderr is not a terminal")
	}
	if len(text) > osc52LimitBytes {
		return fmt.Errorf("text too large for OSC52 (%d bytes > %d)", len(text), osc52LimitBytes)
	}

	seq := osc52.New(text).Limit(osc52LimitBytes)
	if os.Getenv("TMUX") != "" {
		seq = seq.Tmux()
	} else if os.Getenv("STY") != "" {
		seq = seq.Screen()
	}

	// Stderr keeps the sequence out of the TUI's stdout renderer.
	_, err := seq.WriteTo(os.Stderr)
	return err
}

func writeTempFile(text string) (string, error) {
	f, err := os.CreateTemp("", fmt.Sprintf("parley-clipboard-%d-*.txt", time.Now().UnixNano()))
	if err != nil {
		return "", err
	}
	path := f.Name()
	defer func() {
		_ = f.Close()
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if _, err = f.WriteString(text); err != nil {
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	return filepath.Clean(path), nil
}
