package service_test

import (
	"errors"
	"testing"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestReconcileBetStakeFollowsEdits(t *testing.T) {
	f := newFixture(t)
	f.store.SetRate("GBP", dec("1.17"))
	_, over, _ := f.pair(
		betSpec{acct: f.account("alice"), stake: "100", odds: "1.90"},
		betSpec{acct: f.account("bob"), stake: "80", odds: "2.10"},
	)
	assertDec(t, "captured", stakeNet(f.store.Entries(), over.ID)["EUR"], "100")

	b, _ := f.store.Bet(over.ID)
	b.StakeOriginal = decp("120")
	f.store.PutBet(b)
	written, err := f.ledger.ReconcileBetStake(f.ctx, over.ID, "op")
	if err != nil {
		t.Fatalf("ReconcileBetStake: %v", err)
	}
	if len(written) != 1 {
		t.Fatalf("written = %d, want 1", len(written))
	}
	assertDec(t, "delta", written[0].AmountNative, "20")
	assertDec(t, "captured after edit", stakeNet(f.store.Entries(), over.ID)["EUR"], "120")

	b.Currency = "GBP"
	b.StakeOriginal = decp("100")
	f.store.PutBet(b)
	if _, err := f.ledger.ReconcileBetStake(f.ctx, over.ID, "op"); err != nil {
		t.Fatalf("ReconcileBetStake after currency change: %v", err)
	}
	net := stakeNet(f.store.Entries(), over.ID)
	assertDec(t, "EUR captured", net["EUR"], "0")
	assertDec(t, "GBP captured", net["GBP"], "100")

	again, err := f.ledger.ReconcileBetStake(f.ctx, over.ID, "op")
	if err != nil || len(again) != 0 {
		t.Errorf("second reconcile wrote %d entries, err=%v", len(again), err)
	}
}

func TestRecordFunding(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.account("alice"), f.account("bob")

	w, err := f.ledger.RecordFunding(f.ctx, service.FundingRequest{
		AssociateID: alice.associate,
		BookmakerID: &alice.bookmaker,
		Type:        domain.EntryWithdrawal,
		Amount:      dec("50"),
		Currency:    "eur",
		Note:        "  payout ",
	})
	if err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
	assertDec(t, "withdrawal", w.AmountEUR, "-50")
	if w.CreatedBy != domain.SystemAuthor || w.Note == nil || *w.Note != "payout" {
		t.Errorf("created_by=%q note=%v", w.CreatedBy, w.Note)
	}

	d, err := f.ledger.RecordFunding(f.ctx, service.FundingRequest{
		AssociateID: alice.associate,
		Type:        domain.EntryDeposit,
		Amount:      dec("-130"),
		Currency:    "EUR",
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	assertDec(t, "deposit", d.AmountEUR, "130")

	bal, err := f.ledger.Balance(f.ctx, alice.associate)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	assertDec(t, "balance", bal.TotalEUR, "80")
	if bal.EntryCount != 2 {
		t.Errorf("entry count = %d", bal.EntryCount)
	}

	tests := []struct {
		name string
		req  service.FundingRequest
		want error
	}{
		{"zero", service.FundingRequest{AssociateID: alice.associate, Type: domain.EntryDeposit, Currency: "EUR"}, domain.ErrZeroAmount},
		{"sub-cent", service.FundingRequest{AssociateID: alice.associate, Type: domain.EntryDeposit, Amount: dec("0.004"), Currency: "EUR"}, domain.ErrZeroAmount},
		{"sub-cent withdrawal", service.FundingRequest{AssociateID: alice.associate, Type: domain.EntryWithdrawal, Amount: dec("-0.0049"), Currency: "EUR"}, domain.ErrZeroAmount},
		{"wrong type", service.FundingRequest{AssociateID: alice.associate, Type: domain.EntryBetResult, Amount: dec("1"), Currency: "EUR"}, domain.ErrValidation},
		{"currency", service.FundingRequest{AssociateID: alice.associate, Type: domain.EntryDeposit, Amount: dec("1"), Currency: "JPY"}, domain.ErrUnsupportedCurrency},
		{"foreign bookmaker", service.FundingRequest{AssociateID: alice.associate, BookmakerID: &bob.bookmaker, Type: domain.EntryDeposit, Amount: dec("1"), Currency: "EUR"}, domain.ErrBookmakerMismatch},
		{"unknown associate", service.FundingRequest{AssociateID: uuid.New(), Type: domain.EntryDeposit, Amount: dec("1"), Currency: "EUR"}, domain.ErrAssociateNotFound},
		{"no rate", service.FundingRequest{AssociateID: alice.associate, Type: domain.EntryDeposit, Amount: dec("1"), Currency: "USD"}, domain.ErrFXRateMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.ledger.RecordFunding(f.ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if n := len(f.store.Entries()); n != 2 {
		t.Errorf("rejected requests wrote entries: %d", n)
	}
}

func TestBalanceSeparatesStake(t *testing.T) {
	f := newFixture(t)
	alice := f.account("alice")
	f.pair(
		betSpec{acct: alice, stake: "100", odds: "1.90"},
		betSpec{acct: f.account("bob"), stake: "80", odds: "2.10"},
	)
	if _, err := f.ledger.RecordFunding(f.ctx, service.FundingRequest{
		AssociateID: alice.associate, Type: domain.EntryDeposit, Amount: dec("500"), Currency: "EUR",
	}); err != nil {
		t.Fatal(err)
	}
	bal, err := f.ledger.Balance(f.ctx, alice.associate)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	assertDec(t, "total", bal.TotalEUR, "500")
	assertDec(t, "staked", bal.StakedEUR, "100")

	if _, err := f.ledger.Balance(f.ctx, uuid.New()); !domain.IsNotFound(err) {
		t.Errorf("unknown associate err = %v", err)
	}
}

func TestLedgerRejectsMutation(t *testing.T) {
	f := newFixture(t)
	alice := f.account("alice")
	e, err := f.ledger.RecordFunding(f.ctx, service.FundingRequest{
		AssociateID: alice.associate, Type: domain.EntryDeposit, Amount: dec("10"), Currency: "EUR",
	})
	if err != nil {
		t.Fatal(err)
	}

	changed := *e
	changed.AmountEUR = decimal.NewFromInt(1000)
	if err := f.ledger.UpdateEntry(f.ctx, &changed); !errors.Is(err, domain.ErrLedgerImmutable) || !domain.IsIntegrity(err) {
		t.Errorf("update err = %v, want ErrLedgerImmutable", err)
	}
	if err := f.ledger.DeleteEntry(f.ctx, e.ID); !errors.Is(err, domain.ErrLedgerImmutable) {
		t.Errorf("delete err = %v, want ErrLedgerImmutable", err)
	}
	got := f.store.Entries()
	if len(got) != 1 || !got[0].AmountEUR.Equal(dec("10")) {
		t.Errorf("ledger changed: %+v", got)
	}
}
