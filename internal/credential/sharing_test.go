package credential

import (
	"encoding/json"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	data := map[string]interface{}{
		"name":     "prod",
		"url":      "https://es.internal:9200",
		"password": "s3cr3t!@#$%",
	}
	plaintext, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	bundleJSON, key, err := SealBundle(plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	// 256 bits in base64url without padding
	if len(key) != 43 {
		t.Errorf("expected key length 43, got %d", len(key))
	}

	var bundle ShareBundle
	if err := json.Unmarshal([]byte(bundleJSON), &bundle); err != nil {
		t.Fatalf("bundle is not valid JSON: %v", err)
	}
	if bundle.App != "espal" || bundle.Version != 1 {
		t.Errorf("unexpected envelope: app=%q v=%d", bundle.App, bundle.Version)
	}

	opened, err := OpenBundle(bundleJSON, key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(opened, &result); err != nil {
		t.Fatalf("unmarshal opened: %v", err)
	}
	if result["password"] != "s3cr3t!@#$%" {
		t.Errorf("password mismatch")
	}
}

func TestOpenBundleWrongKey(t *testing.T) {
	bundleJSON, _, err := SealBundle([]byte(`{"test": true}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	_, otherKey, err := SealBundle([]byte("other"))
	if err != nil {
		t.Fatalf("seal other: %v", err)
	}

	if _, err := OpenBundle(bundleJSON, otherKey); err == nil {
		t.Fatal("expected error with wrong key")
	}
}

func TestOpenBundleInvalidInput(t *testing.T) {
	if _, err := OpenBundle("not json", "somekey"); err == nil {
		t.Fatal("expected error for invalid JSON")
	}

	bundleJSON, _, err := SealBundle([]byte(`{}`))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenBundle(bundleJSON, "tooshort"); err == nil {
		t.Fatal("expected error for invalid key")
	}
	if _, err := OpenBundle(`{"v":1,"app":"otherapp"}`, "x"); err == nil {
		t.Fatal("expected error for foreign bundle")
	}
}
