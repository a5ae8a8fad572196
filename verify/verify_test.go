// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package verify

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/mempool/dag"
	"github.com/luxfi/mempool/peer"
	"github.com/luxfi/mempool/point"
)

type stubDownloader struct{}

func (stubDownloader) Download(context.Context, point.PointID, point.PeerID) (*point.Point, error) {
	return nil, errNotFound
}

var errNotFound = context.DeadlineExceeded

func newAuthor(t *testing.T) (point.PeerID, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	var id point.PeerID
	copy(id[:], pub)
	return id, priv
}

func TestVerifyRejectsUnseatedAuthor(t *testing.T) {
	author, priv := newAuthor(t)
	genesisRound := point.BottomRound.Next()
	body := point.PointBody{
		Location:      point.Location{Round: genesisRound, Author: author},
		Time:          1,
		AnchorTime:    1,
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	p := point.New(priv, body)

	schedule := peer.NewSchedule() // no epoch registered: author is unseated everywhere
	err := Verify(p, schedule, genesisRound)
	require.ErrorIs(t, err, ErrIllFormed)
}

func TestVerifyAcceptsGenesis(t *testing.T) {
	author, priv := newAuthor(t)
	genesisRound := point.BottomRound.Next()
	body := point.PointBody{
		Location:      point.Location{Round: genesisRound, Author: author},
		Time:          1,
		AnchorTime:    1,
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	p := point.New(priv, body)

	schedule := peer.NewSchedule()
	schedule.SetEpoch([]point.PeerID{author}, genesisRound, true)
	require.NoError(t, Verify(p, schedule, genesisRound))
}

func TestValidateGenesisIsTrusted(t *testing.T) {
	author, priv := newAuthor(t)
	genesisRound := point.BottomRound.Next()
	body := point.PointBody{
		Location:      point.Location{Round: genesisRound, Author: author},
		Time:          1,
		AnchorTime:    1,
		AnchorTrigger: point.ToSelfLink(),
		AnchorProof:   point.ToSelfLink(),
	}
	p := point.New(priv, body)

	schedule := peer.NewSchedule()
	schedule.SetEpoch([]point.PeerID{author}, genesisRound, true)
	v := &Verifier{Schedule: schedule, Downloader: stubDownloader{}, GenesisRound: genesisRound, DAGDepth: 5}

	front := dag.NewFront()
	front.Seed(dag.NewRound(genesisRound, []point.PeerID{author}, priv))

	dp := v.Validate(context.Background(), p, front, nil)
	require.Equal(t, point.Trusted, dp.Kind())
}
