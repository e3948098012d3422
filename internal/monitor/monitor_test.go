package monitor

import (
	"strings"
	"testing"
)

func TestNewEmbeddedContractMonitor(t *testing.T) {
	t.Run("SuccessfulLoad", func(t *testing.T) {
		cm, err := NewEmbeddedContractMonitor(ContractProcessPurchase)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cm == nil || cm.schema == nil {
			t.Fatal("Expected a compiled schema")
		}
	})

	t.Run("UnknownContract", func(t *testing.T) {
		_, err := NewEmbeddedContractMonitor("refund")
		if err == nil {
			t.Fatal("Expected error for unknown contract, got nil")
		}
		if !strings.Contains(err.Error(), "unknown contract refund") {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func TestContractMonitor_Validate(t *testing.T) {
	cm, err := NewEmbeddedContractMonitor(ContractInitPurchase)
	if err != nil {
		t.Fatalf("Failed to create ContractMonitor: %v", err)
	}

	tests := []struct {
		name          string
		payload       string
		expectValid   bool
		expectErrors  bool
		errorContains []string
	}{
		{
			name:        "ValidPayload",
			payload:     `{"siteId":"site-1","bundleId":"b","amount":1000,"currency":"USD","paymentType":"cc","email":"jane@example.com"}`,
			expectValid: true,
		},
		{
			name:          "MissingRequiredField",
			payload:       `{"siteId":"site-1","bundleId":"b","amount":1000,"paymentType":"cc"}`,
			expectErrors:  true,
			errorContains: []string{"(root): currency is required"},
		},
		{
			name:          "WrongType",
			payload:       `{"siteId":"site-1","bundleId":"b","amount":"ten","currency":"USD","paymentType":"cc"}`,
			expectErrors:  true,
			errorContains: []string{"Invalid type. Expected: integer, given: string"},
		},
		{
			name:          "FormatViolation",
			payload:       `{"siteId":"site-1","bundleId":"b","amount":1000,"currency":"USD","paymentType":"cc","email":"not-an-email"}`,
			expectErrors:  true,
			errorContains: []string{"Does not match format 'email'"},
		},
		{
			name:        "AdditionalPropertyAllowed",
			payload:     `{"siteId":"site-1","bundleId":"b","amount":1000,"currency":"USD","paymentType":"cc","campaign":"spring"}`,
			expectValid: true,
		},
		{
			name:         "MalformedJSON",
			payload:      `{"siteId":"site-1","amount":25,`,
			expectErrors: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, validationErrs, funcErr := cm.Validate([]byte(tt.payload))
			if valid != tt.expectValid {
				t.Errorf("Expected valid=%v, got %v (errors: %v, funcErr: %v)", tt.expectValid, valid, validationErrs, funcErr)
			}
			if tt.expectErrors && funcErr == nil && len(validationErrs) == 0 {
				t.Error("Expected errors, got none")
			}
			if !tt.expectErrors && (funcErr != nil || len(validationErrs) > 0) {
				t.Errorf("Expected no errors, got %v / %v", validationErrs, funcErr)
			}
			combined := strings.Join(validationErrs, "; ")
			for _, ec := range tt.errorContains {
				if !strings.Contains(combined, ec) {
					t.Errorf("Expected errors to contain %q, got: %s", ec, combined)
				}
			}
		})
	}
}

func TestContracts(t *testing.T) {
	contracts, err := LoadContracts()
	if err != nil {
		t.Fatalf("LoadContracts failed: %v", err)
	}

	tests := []struct {
		contract    string
		payload     string
		expectValid bool
	}{
		{ContractInitPurchase, `{"siteId":"site-1","bundleId":"b","amount":1000,"currency":"USD","paymentType":"cc"}`, true},
		{ContractInitPurchase, `{"siteId":"site-1","bundleId":"b","amount":-1,"currency":"USD","paymentType":"cc"}`, false},
		{ContractInitPurchase, `{"siteId":"site-1","bundleId":"b","amount":1000,"currency":"usd","paymentType":"cc"}`, false},
		{ContractInitPurchase, `{"siteId":"site-1","bundleId":"b","amount":1,"currency":"USD","paymentType":"cc","crossSellOptions":[{"siteId":"site-2"}]}`, false},
		{ContractProcessPurchase, `{"payment":{"number":"4111111111111111","expMonth":12,"expYear":2030,"cvv":"123"},"selectedCrossSells":["x"]}`, true},
		{ContractProcessPurchase, `{"payment":{"number":"4111","expMonth":12,"expYear":2030}}`, false},
		{ContractProcessPurchase, `{"payment":{"number":"4111111111111111","expMonth":13,"expYear":2030}}`, false},
		{ContractProcessPurchase, `{}`, false},
		{ContractThreeDLookup, `{"deviceFingerprintId":"d1","payment":{"number":"4000000000003220","expMonth":1,"expYear":2031}}`, true},
		{ContractThreeDLookup, `{"payment":{"number":"4000000000003220","expMonth":1,"expYear":2031}}`, false},
		{ContractThreeDAuthenticate, `{"cres":"abc"}`, true},
		{ContractThreeDAuthenticate, `{"pares":"abc"}`, true},
		{ContractThreeDAuthenticate, `{}`, false},
		{ContractCaptcha, `{"step":"init","token":"t"}`, true},
		{ContractCaptcha, `{"step":"checkout","token":"t"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.contract, func(t *testing.T) {
			valid, errs, err := contracts.Validate(tt.contract, []byte(tt.payload))
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if valid != tt.expectValid {
				t.Errorf("%s: expected valid=%v, got %v (%v)", tt.payload, tt.expectValid, valid, errs)
			}
		})
	}

	if _, _, err := contracts.Validate("refund", []byte(`{}`)); err == nil {
		t.Error("Expected error for unknown contract")
	}
}

func TestFormatErrors(t *testing.T) {
	tests := []struct {
		name           string
		errors         []string
		expectedOutput string
	}{
		{"NoErrors", []string{}, ""},
		{"SingleError", []string{"Error: Field 'X' is required."}, "Validation errors: Error: Field 'X' is required."},
		{"MultipleErrors", []string{"Error 1", "Error 2"}, "Validation errors: Error 1; Error 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if output := FormatErrors(tt.errors); output != tt.expectedOutput {
				t.Errorf("Expected '%s', got '%s'", tt.expectedOutput, output)
			}
		})
	}
}
