package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainConfig = "itemsync/config/v1"
	DomainItem   = "itemsync/item/v1"
	DomainRule   = "itemsync/rule/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ItemFingerprint hashes an item's type and field values. Provenance is
// excluded: two items with the same content have the same fingerprint
// regardless of which provider they were read from.
func ItemFingerprint(item *Item) (string, error) {
	fields := make(map[string]any, len(item.Fields))
	for _, f := range item.Fields {
		fields[f.Name] = f.Value
	}
	data, err := MarshalCanonical(map[string]any{
		"type":   item.Type,
		"fields": fields,
	})
	if err != nil {
		return "", fmt.Errorf("marshal item %s: %w", item.Provenance.NativeID, err)
	}
	return hashWithDomain(DomainItem, data), nil
}

// RuleHash identifies a rule definition. Two runs with the same RuleHash
// executed the same source/destination pairing and transforms.
func RuleHash(rule *SyncRule) (string, error) {
	plain, err := toPlain(rule)
	if err != nil {
		return "", fmt.Errorf("marshal rule %s: %w", rule.Name, err)
	}
	data, err := MarshalCanonical(plain)
	if err != nil {
		return "", fmt.Errorf("marshal rule %s: %w", rule.Name, err)
	}
	return hashWithDomain(DomainRule, data), nil
}

// ConfigHash identifies a compiled configuration document.
func ConfigHash(cfg *Config) (string, error) {
	plain, err := toPlain(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	data, err := MarshalCanonical(plain)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return hashWithDomain(DomainConfig, data), nil
}
