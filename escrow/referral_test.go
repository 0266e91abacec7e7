package escrow

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
	"github.com/tolelom/lastout/core"
	"github.com/tolelom/lastout/crypto"
	"github.com/tolelom/lastout/events"
)

func consent(t *testing.T, referrer crypto.PrivateKey, player string) []byte {
	t.Helper()
	sig, err := crypto.SignAddressConsent(referrer, player)
	require.NoError(t, err)
	return sig
}

// highS returns the other valid encoding of sig: S mirrored to n-S with the
// recovery id flipped.
func highS(sig []byte) []byte {
	out := append([]byte(nil), sig...)
	var s secp256k1.ModNScalar
	s.SetByteSlice(out[32:64])
	s.Negate()
	b := s.Bytes()
	copy(out[32:64], b[:])
	out[64] ^= 1
	return out
}

func TestReferralScenario(t *testing.T) {
	f := newFixture(t, 5, func(p *Params) { p.ReferralBps = 500 })
	ref := newKey(t)

	referrers := make([]string, 5)
	sigs := make([][]byte, 5)
	referrers[0] = ref.Address()
	sigs[0] = consent(t, ref, f.players[0])

	require.NoError(t, f.eng.CreateGame(f.as(f.backend), 1, f.players, referrers, sigs))
	bound, err := f.eng.Referrer(f.players[0])
	require.NoError(t, err)
	require.Equal(t, ref.Address(), bound)
	require.Equal(t, 1, f.eventCount(events.EventReferrerBound))

	for _, p := range f.players {
		f.deposit(1, p)
	}
	require.NoError(t, f.eng.RecordResults(f.as(f.backend), 1, f.players[:4], f.players[4]))

	// 100 * 500 / 5 / 10000 = 1
	earned, err := f.eng.ReferralEarnings(ref.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(1), earned)

	ct, err := f.eng.Contract()
	require.NoError(t, err)
	require.Equal(t, uint64(99), ct.AccumulatedCommission)
	require.Equal(t, uint64(1225), f.game(1).WinningsPerWinner)

	require.NoError(t, f.eng.ClaimReferralEarnings(f.as(ref.Address())))
	require.Equal(t, uint64(1), f.balance(ref.Address()))
	f.unchanged(ErrNothingToClaim, func() error { return f.eng.ClaimReferralEarnings(f.as(ref.Address())) })
}

func TestReferralBindingIsPermanent(t *testing.T) {
	f := newFixture(t, 3, nil)
	first, second := newKey(t), newKey(t)
	p := f.players

	require.NoError(t, f.eng.CreateGame(f.as(f.backend), 1, p,
		[]string{first.Address(), BlockedReferrer, ""},
		[][]byte{consent(t, first, p[0]), nil, nil}))

	got, err := f.eng.Referrer(p[1])
	require.NoError(t, err)
	require.Equal(t, BlockedReferrer, got)
	got, err = f.eng.Referrer(p[2])
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, 1, f.eventCount(events.EventReferrerBlocked))

	// later games cannot rebind p0 or p1, but p2 is still open
	require.NoError(t, f.eng.CreateGame(f.as(f.backend), 2, p,
		[]string{second.Address(), second.Address(), second.Address()},
		[][]byte{consent(t, second, p[0]), consent(t, second, p[1]), consent(t, second, p[2])}))

	got, _ = f.eng.Referrer(p[0])
	require.Equal(t, first.Address(), got)
	got, _ = f.eng.Referrer(p[1])
	require.Equal(t, BlockedReferrer, got)
	got, _ = f.eng.Referrer(p[2])
	require.Equal(t, second.Address(), got)
}

func TestSelfReferralLeavesSlotOpen(t *testing.T) {
	f := newFixture(t, 2, nil)
	p := f.players
	require.NoError(t, f.eng.CreateGame(f.as(f.backend), 1, p,
		[]string{p[0], ""}, [][]byte{consent(t, f.keys[0], p[0]), nil}))
	got, err := f.eng.Referrer(p[0])
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestInvalidReferralSignatureAbortsCreate(t *testing.T) {
	f := newFixture(t, 3, nil)
	good, bad := newKey(t), newKey(t)
	p := f.players

	tests := []struct {
		name string
		sigs [][]byte
	}{
		{"wrong signer", [][]byte{consent(t, good, p[0]), consent(t, bad, p[1]), nil}},
		{"signed other player", [][]byte{consent(t, good, p[0]), consent(t, good, p[2]), nil}},
		{"missing signature", [][]byte{consent(t, good, p[0]), nil, nil}},
		{"garbage signature", [][]byte{consent(t, good, p[0]), make([]byte, 65), nil}},
		{"high s signature", [][]byte{consent(t, good, p[0]), highS(consent(t, good, p[1])), nil}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f.unchanged(ErrInvalidReferralSignature, func() error {
				return f.eng.CreateGame(f.as(f.backend), 1, p,
					[]string{good.Address(), good.Address(), ""}, tc.sigs)
			})
			_, err := f.state.GetGame(1)
			require.ErrorIs(t, err, core.ErrNotFound)
			got, err := f.eng.Referrer(p[0])
			require.NoError(t, err)
			require.Empty(t, got, "earlier binding in the same call must be rolled back")
			ct, err := f.eng.Contract()
			require.NoError(t, err)
			require.Equal(t, uint64(1), ct.NextGameID)
		})
	}
}

func TestReferralBonusSkipsBlockedAndNonDepositors(t *testing.T) {
	f := newFixture(t, 4, func(p *Params) {
		p.ReferralBps = 10_000
		p.CommissionAmount = 400
	})
	ref := newKey(t)
	p := f.players
	require.NoError(t, f.eng.CreateGame(f.as(f.backend), 1, p,
		[]string{ref.Address(), BlockedReferrer, ref.Address(), ref.Address()},
		[][]byte{consent(t, ref, p[0]), nil, consent(t, ref, p[2]), consent(t, ref, p[3])}))

	f.deposit(1, p[0])
	f.deposit(1, p[1])
	f.deposit(1, p[2])
	require.NoError(t, f.eng.RecordResults(f.as(f.backend), 1, []string{p[0], p[1]}, p[2]))

	// two referred depositors (p0, p2) at 400 * 10000 / 3 / 10000 = 133 each
	earned, err := f.eng.ReferralEarnings(ref.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(266), earned)
	ct, err := f.eng.Contract()
	require.NoError(t, err)
	require.Equal(t, uint64(134), ct.AccumulatedCommission)
	require.Equal(t, 1, f.eventCount(events.EventReferralAccrued))
}

type stubVerifier struct{ signer string }

func (s stubVerifier) RecoverSigner(string, []byte) (string, error) { return s.signer, nil }

func TestCustomVerifier(t *testing.T) {
	ref := newKey(t).Address()
	f := newFixture(t, 2, nil, WithVerifier(stubVerifier{signer: ref}))
	require.NoError(t, f.eng.CreateGame(f.as(f.backend), 1, f.players,
		[]string{ref, ""}, [][]byte{nil, nil}))
	got, err := f.eng.Referrer(f.players[0])
	require.NoError(t, err)
	require.Equal(t, ref, got)
}
