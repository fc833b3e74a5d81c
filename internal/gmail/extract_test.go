package gmail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractGXBankSnippet(t *testing.T) {
	p, ok := ExtractPayment("You've received RM1.68 from Daneil Goh", "")
	require.True(t, ok)
	assert.Equal(t, "Daneil Goh", p.Name)
	assert.Equal(t, "1.68", p.Amount)
}

func TestExtractThousandsAmount(t *testing.T) {
	p, ok := ExtractPayment("You've received RM15,000.00 from Daneil Goh", "")
	require.True(t, ok)
	assert.Equal(t, "15,000.00", p.Amount)
}

func TestExtractFromBodyWhenSnippetEmpty(t *testing.T) {
	p, ok := ExtractPayment("", "Payment received. You've received RM1.68 from John Tan.")
	require.True(t, ok)
	assert.Equal(t, "John Tan", p.Name)
}

func TestSkipsOutgoingTransaction(t *testing.T) {
	_, ok := ExtractPayment("Your transaction of RM1.68 to Jane Doe is complete", "")
	assert.False(t, ok)
}

func TestSkipsNonIncomingEmail(t *testing.T) {
	_, ok := ExtractPayment("Your statement is ready", "")
	assert.False(t, ok)
}

func TestBlacklistedFontNamesRejected(t *testing.T) {
	_, ok := ExtractPayment("received RM1.68 from Helvetica Neue", "")
	assert.False(t, ok)
}

func TestTrailingPunctuationStripped(t *testing.T) {
	p, ok := ExtractPayment("You've received RM1.68 from Jane Doe.", "")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", p.Name)
}
