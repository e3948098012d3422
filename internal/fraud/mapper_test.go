package fraud_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/purchase-gateway/internal/fraud"
	"github.com/yourorg/purchase-gateway/internal/purchase"
)

func recs(codes ...int) []fraud.Recommendation {
	out := make([]fraud.Recommendation, len(codes))
	for i, c := range codes {
		out[i] = fraud.Recommendation{Code: c}
	}
	return out
}

func TestMapper_Priority(t *testing.T) {
	m := fraud.NewMapper(fraud.Config{})

	tests := []struct {
		name  string
		codes []int
		want  purchase.Signals
	}{
		{"Blacklist beats captcha", []int{fraud.CodeCaptcha, fraud.CodeBlacklist}, purchase.Signals{Blacklisted: true}},
		{"Captcha beats force 3DS", []int{fraud.CodeForceThreeD, fraud.CodeCaptcha}, purchase.Signals{CaptchaAdvised: true}},
		{"Force 3DS", []int{fraud.CodeDefault, fraud.CodeForceThreeDBin}, purchase.Signals{ForceThreeD: true}},
		{"Default", []int{fraud.CodeDefault}, purchase.Signals{}},
		{"Empty", nil, purchase.Signals{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Signals(recs(tt.codes...)))
		})
	}
}

func TestMapper_ProcessSeededFromInit(t *testing.T) {
	m := fraud.NewMapper(fraud.DefaultConfig())

	_, err := m.MapProcess(purchase.FraudAdvice{}, recs(fraud.CodeCaptcha))
	require.Error(t, err)

	advice := m.MapInit(purchase.FraudAdvice{}, recs(fraud.CodeForceThreeD))
	assert.True(t, advice.InitComputed)

	advice, err = m.MapProcess(advice, recs(fraud.CodeCaptcha))
	require.NoError(t, err)
	assert.True(t, advice.Process.ForceThreeD, "init flag carried into process advice")
	assert.True(t, advice.Process.CaptchaAdvised)
	assert.False(t, advice.Init.CaptchaAdvised, "init advice untouched by process mapping")

	advice, err = m.MapProcess(advice, recs(fraud.CodeDefault))
	require.NoError(t, err)
	assert.True(t, advice.Process.CaptchaAdvised, "an allow recommendation never downgrades advice")
}
