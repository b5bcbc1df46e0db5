package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const SecretKeyBytesLen = 32

// Print access and refresh secrets in '.env' format
func main() {
	size := pflag.IntP("bytes", "b", SecretKeyBytesLen, "Secret length in bytes")
	pflag.Parse()

	if err := generate(os.Stdout, rand.Reader, *size); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret keys: %v\n", err)
		os.Exit(1)
	}
}

func generate(w io.Writer, random io.Reader, size int) error {
	if size < 16 {
		return fmt.Errorf("secret must be at least 16 bytes, got %d", size)
	}

	for _, key := range []string{"JWT_SECRET_KEY", "JWT_REFRESH_SECRET_KEY"} {
		b := make([]byte, size)
		if _, err := io.ReadFull(random, b); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", key, hex.EncodeToString(b)); err != nil {
			return err
		}
	}

	return nil
}
