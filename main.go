package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
)

// generateKey creates a random 256-bit AES key suitable for
// secrets.encryption_key.
func generateKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("unable to generate key: %v", err)
	}
	return key
}

func main() {
	fmt.Println("encryption key (hex):", hex.EncodeToString(generateKey()))
}
