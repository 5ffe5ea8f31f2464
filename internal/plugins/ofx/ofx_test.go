package ofx

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/stmtingest/internal/domain"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/parser"
	"github.com/rumor-ml/commons.systems/stmtingest/internal/registry"
)

const sgmlHeader = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

`

const signon = `<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240101120000
<LANGUAGE>ENG
<FI>
<ORG>TESTBANK
<FID>12345
</FI>
</SONRS>
</SIGNONMSGSRSV1>
`

func bankStatement(acctType, transactions, balance string) string {
	return sgmlHeader + "<OFX>\n" + signon + `<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>9876543210
<ACCTTYPE>` + acctType + `
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101000000
<DTEND>20240131235959
` + transactions + `</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>` + balance + `
<DTASOF>20240131235959
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`
}

func stmttrn(trnType, posted, amount, fitID, name string) string {
	return "<STMTTRN>\n<TRNTYPE>" + trnType + "\n<DTPOSTED>" + posted + "\n<TRNAMT>" + amount +
		"\n<FITID>" + fitID + "\n<NAME>" + name + "\n</STMTTRN>\n"
}

const creditCardStatement = sgmlHeader + "<OFX>\n" + signon + `<CREDITCARDMSGSRSV1>
<CCSTMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<CCSTMTRS>
<CURDEF>USD
<CCACCTFROM>
<ACCTID>4111111111111111
</CCACCTFROM>
<BANKTRANLIST>
<DTSTART>20240101000000
<DTEND>20240131235959
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20240110120000
<TRNAMT>-25.99
<FITID>CC001
<NAME>Amazon Purchase
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>-500.00
<DTASOF>20240131235959
</LEDGERBAL>
</CCSTMTRS>
</CCSTMTTRNRS>
</CREDITCARDMSGSRSV1>
</OFX>`

func doc(t *testing.T, name, content string) *parser.Document {
	t.Helper()
	d, err := parser.NewDocument(name, []byte(content))
	require.NoError(t, err)
	d.Text = content
	return d
}

func TestDescriptorsRegister(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	require.NoError(t, reg.Register(NewOFX()))
	require.NoError(t, reg.Register(NewQFX()))
	assert.Equal(t, ".ofx", NewOFX().Descriptor().Suffix)
	assert.Equal(t, ".qfx", NewQFX().Descriptor().Suffix)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		plugin   *Plugin
		file     string
		header   string
		expected bool
	}{
		{"OFX file with OFXHEADER marker", NewOFX(), "test.ofx", "OFXHEADER:100\nDATA:OFXSGML\n", true},
		{"OFX file with XML header", NewOFX(), "test.ofx", "<?xml version=\"1.0\"?><?OFX OFXHEADER=\"200\"?>\n", true},
		{"OFX file with OFX tag", NewOFX(), "test.ofx", "<OFX><SIGNONMSGSRSV1>", true},
		{"OFX extension uppercase", NewOFX(), "test.OFX", "OFXHEADER:100\n", true},
		{"OFX file without valid header", NewOFX(), "test.ofx", "This is not OFX content", false},
		{"QFX file", NewQFX(), "test.qfx", "OFXHEADER:100\n", true},
		{"QFX content offered to OFX plugin", NewOFX(), "test.qfx", "OFXHEADER:100\n", false},
		{"CSV file", NewOFX(), "test.csv", "OFXHEADER:100\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.plugin.Match(doc(t, tt.file, tt.header)))
		})
	}
}

func TestExtract_BankStatement(t *testing.T) {
	content := bankStatement("CHECKING",
		stmttrn("DEBIT", "20240105120000", "-50.00", "TXN001", "Test Transaction 1")+
			stmttrn("CREDIT", "20240115120000", "1000.00", "TXN002", "Paycheck"),
		"2000.00")

	draft, err := NewOFX().Extract(context.Background(), doc(t, "statement.ofx", content))
	require.NoError(t, err)

	assert.Equal(t, "TESTBANK", draft.Account.Institution)
	assert.Equal(t, "9876543210", draft.Account.Number)
	assert.Equal(t, "checking", draft.Account.Type)
	assert.Equal(t, "USD", draft.Currency)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), domain.CivilDate(draft.PeriodStart))
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), domain.CivilDate(draft.PeriodEnd))

	assert.True(t, draft.ClosingBalance.Equal(decimal.RequireFromString("2000")))
	assert.True(t, draft.OpeningBalance.Equal(decimal.RequireFromString("1050")), "opening = %s", draft.OpeningBalance)

	require.Len(t, draft.Transactions, 2)
	assert.Equal(t, "Test Transaction 1", draft.Transactions[0].Description)
	assert.True(t, draft.Transactions[0].Amount.Equal(decimal.RequireFromString("-50")))
	assert.True(t, draft.Transactions[1].Amount.Equal(decimal.RequireFromString("1000")))
}

func TestExtract_CreditCard(t *testing.T) {
	draft, err := NewQFX().Extract(context.Background(), doc(t, "card.qfx", creditCardStatement))
	require.NoError(t, err)
	assert.Equal(t, "credit", draft.Account.Type)
	assert.Equal(t, "4111111111111111", draft.Account.Number)
	require.Len(t, draft.Transactions, 1)
	assert.Equal(t, "Amazon Purchase", draft.Transactions[0].Description)
	assert.True(t, draft.OpeningBalance.Equal(decimal.RequireFromString("-474.01")))
}

func TestExtract_SavingsAccount(t *testing.T) {
	content := bankStatement("SAVINGS", stmttrn("INT", "20240131120000", "1.25", "I1", "Interest"), "501.25")
	draft, err := NewOFX().Extract(context.Background(), doc(t, "savings.ofx", content))
	require.NoError(t, err)
	assert.Equal(t, "savings", draft.Account.Type)
	assert.True(t, draft.OpeningBalance.Equal(decimal.RequireFromString("500")))
}

func TestExtract_CreditLine(t *testing.T) {
	draft, err := NewOFX().Extract(context.Background(), doc(t, "line.ofx", bankStatement("CREDITLINE", "", "-120.00")))
	require.NoError(t, err)
	assert.Equal(t, "credit", draft.Account.Type)
	assert.Empty(t, draft.Transactions)
	assert.True(t, draft.OpeningBalance.Equal(draft.ClosingBalance))
}

func TestExtract_DistinctFITIDsAreLegitimateRepeats(t *testing.T) {
	content := bankStatement("CHECKING",
		stmttrn("DEBIT", "20240105120000", "-4.50", "A1", "Coffee")+
			stmttrn("DEBIT", "20240105120000", "-4.50", "A2", "Coffee")+
			stmttrn("DEBIT", "20240106120000", "-4.50", "A3", "Coffee"),
		"86.50")

	draft, err := NewOFX().Extract(context.Background(), doc(t, "repeat.ofx", content))
	require.NoError(t, err)
	require.Len(t, draft.Transactions, 3)
	assert.False(t, draft.Transactions[0].LegitimateRepeat)
	assert.True(t, draft.Transactions[1].LegitimateRepeat)
	assert.False(t, draft.Transactions[2].LegitimateRepeat)
}

func TestExtract_InstitutionFromMetadata(t *testing.T) {
	content := bankStatement("CHECKING", stmttrn("DEBIT", "20240105120000", "-1.00", "X", "Fee"), "10.00")
	d := doc(t, "statement.ofx", content)
	meta, err := parser.NewMetadata("/statements/chase/1234/statement.ofx", time.Now())
	require.NoError(t, err)
	meta.SetInstitution("chase")
	d.Meta = meta

	draft, err := NewOFX().Extract(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "chase", draft.Account.Institution)
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"not OFX", "This is not OFX", "failed to parse OFX"},
		{"missing name and memo", bankStatement("CHECKING", "<STMTTRN>\n<TRNTYPE>DEBIT\n<DTPOSTED>20240105120000\n<TRNAMT>-1.00\n<FITID>T1\n</STMTTRN>\n", "0"), "missing both name and memo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOFX().Extract(context.Background(), doc(t, "bad.ofx", tt.content))
			require.Error(t, err)
			var extErr *parser.ExtractionError
			assert.True(t, errors.As(err, &extErr))
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "got %v", err)
		})
	}
}

func TestExtract_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewOFX().Extract(ctx, doc(t, "statement.ofx", creditCardStatement))
	assert.ErrorIs(t, err, context.Canceled)
}
