package security

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func TestEncryptionManager_EncryptDecrypt(t *testing.T) {
	key := []byte("12345678901234567890123456789012")
	manager, err := CreateEncryptionManager(key)
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{
			name:      "Simple text",
			plaintext: "Hello, World!",
		},
		{
			name:      "Registry token",
			plaintext: "c2Vzc2lvbi10b2tlbi1mb3ItdGhlLXJlZ2lzdHJ5",
		},
		{
			name:      "Empty string",
			plaintext: "",
		},
		{
			name:      "Cyrillic text",
			plaintext: "токен сессии реестра",
		},
		{
			name:      "Special characters",
			plaintext: "!@#$%^&*()_+-=[]{}|;':\",./<>?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted, err := manager.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(encrypted) == 0 {
				t.Error("Encrypt() returned empty string")
			}
			if encrypted == tt.plaintext {
				t.Error("Encrypt() returned same as plaintext")
			}

			decrypted, err := manager.Decrypt(encrypted)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("Decrypt() = %v, want %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptionManager_DifferentKeys(t *testing.T) {
	plaintext := "registry session token"

	manager1, err := CreateEncryptionManager([]byte("11111111111111111111111111111111"))
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}
	manager2, err := CreateEncryptionManager([]byte("22222222222222222222222222222222"))
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}

	encrypted, err := manager1.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = manager2.Decrypt(encrypted)
	if err == nil {
		t.Error("Decrypt() expected error with different key")
	}
}

func TestEncryptionManager_InvalidCiphertext(t *testing.T) {
	key := []byte("12345678901234567890123456789012")
	manager, err := CreateEncryptionManager(key)
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}

	tests := []struct {
		name       string
		ciphertext string
	}{
		{
			name:       "Empty string",
			ciphertext: "",
		},
		{
			name:       "Too short",
			ciphertext: "short",
		},
		{
			name:       "Invalid base64",
			ciphertext: "not-valid-base64!@#$%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := manager.Decrypt(tt.ciphertext)
			if err == nil {
				t.Error("Decrypt() expected error for invalid ciphertext")
			}
		})
	}
}

func TestEncryptionManager_UniqueEncryption(t *testing.T) {
	key := []byte("12345678901234567890123456789012")
	manager, err := CreateEncryptionManager(key)
	if err != nil {
		t.Fatalf("CreateEncryptionManager() error = %v", err)
	}
	plaintext := "same text"

	encrypted1, err := manager.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	encrypted2, err := manager.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if encrypted1 == encrypted2 {
		t.Error("Encrypt() should produce different ciphertexts for same plaintext")
	}

	decrypted1, err := manager.Decrypt(encrypted1)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted1 != plaintext {
		t.Errorf("Decrypt() = %v, want %v", decrypted1, plaintext)
	}

	decrypted2, err := manager.Decrypt(encrypted2)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted2 != plaintext {
		t.Errorf("Decrypt() = %v, want %v", decrypted2, plaintext)
	}
}

func TestParseEncryptionKey(t *testing.T) {
	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateEncryptionKey() error = %v", err)
	}

	tests := []struct {
		name    string
		encoded string
		wantErr bool
	}{
		{"valid", base64.StdEncoding.EncodeToString(key), false},
		{"short key", base64.StdEncoding.EncodeToString([]byte("short")), true},
		{"not base64", "%%%", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEncryptionKey(tt.encoded)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEncryptionKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, key) {
				t.Errorf("ParseEncryptionKey() = %x, want %x", got, key)
			}
		})
	}
}
