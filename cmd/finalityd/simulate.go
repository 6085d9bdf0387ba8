// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/finality"
	"github.com/luxfi/finality/storage"
)

const (
	NumVotersKey = "num-voters"
	EpochsKey    = "epochs"
	DataDirKey   = "data-dir"
	TickKey      = "tick"

	voterWeight      = 1_000_000
	maxTicksPerBlock = 100
)

func simulateCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "simulate",
		Short: "Runs an in-process network of voters until a number of epochs is finalized",
		RunE:  simulateFunc,
	}
	flags := c.Flags()
	flags.Int(NumVotersKey, 4, "Number of voters")
	flags.Uint32(EpochsKey, 3, "Number of epochs to finalize")
	flags.String(DBKey, "", "Proof database directory of the first voter, in memory when empty")
	flags.String(DataDirKey, "", "Voting status and votes backup directory of the first voter")
	flags.Duration(TickKey, 250*time.Millisecond, "Simulated time between two blocks")
	addFinalityFlags(flags)
	return c
}

func simulateFunc(c *cobra.Command, _ []string) error {
	v, err := newViper(c.Flags())
	if err != nil {
		return err
	}

	// simulated voting sets are short so that epochs finish quickly
	v.SetDefault(StepDurationKey, time.Second)
	v.SetDefault(VotingSetGroupingKey, 20)
	v.SetDefault(PrevoteBlocksMultipleKey, 2)
	v.SetDefault(MaxHashesPerPointKey, 64)

	log, err := newLogger(v)
	if err != nil {
		return err
	}

	config, err := parseConfig(v)
	if err != nil {
		return err
	}

	numVoters := v.GetInt(NumVotersKey)
	epochs := v.GetUint32(EpochsKey)
	if numVoters <= 0 || epochs == 0 {
		return errors.New("--num-voters and --epochs must be positive")
	}

	sim, err := newSimulation(log, config, numVoters, v.GetString(DBKey), v.GetString(DataDirKey), v.GetDuration(TickKey))
	if err != nil {
		return err
	}
	defer sim.close()

	targetHeight := finality.VotingSetEndHeight(epochs+1, config.VotingSetGrouping)
	if err := sim.run(c, targetHeight); err != nil {
		return err
	}

	statistics := sim.proofs[0].Statistics()
	fmt.Fprintf(c.OutOrStdout(), "finalized round %s height %d hash %s after %d blocks\n",
		statistics.Round, statistics.Height, statistics.Hash, sim.chain.ChainHeight())
	return nil
}

type simulation struct {
	log      *finality.ZapLogger
	chain    *chain
	tick     time.Duration
	start    time.Time
	proofs   []*storage.ProofStorage
	services []*finality.Service
}

func newSimulation(log *finality.ZapLogger, config finality.Config, numVoters int, db string, dataDir string, tick time.Duration) (*simulation, error) {
	sim := &simulation{
		log:   log,
		chain: newChain(),
		tick:  tick,
		start: time.Unix(0, 0),
	}

	signers := make([]*finality.Ed25519Signer, numVoters)
	weights := make(map[finality.VotingKey]uint64, numVoters)
	for i := range signers {
		seed := sha3.Sum256([]byte(fmt.Sprintf("voter-%d", i)))
		signer, err := finality.NewEd25519Signer(seed[:])
		if err != nil {
			return nil, err
		}
		signers[i] = signer
		weights[signer.PublicKey()] = voterWeight
	}
	oracle := finality.NewStaticWeightOracle(weights)

	genesisHashes, err := sim.chain.LoadHashesFrom(1, 1)
	if err != nil {
		return nil, err
	}
	genesis := finality.FinalizationStatistics{
		Round:  finality.FinalizationRound{Epoch: 1, Point: 1},
		Height: 1,
		Hash:   genesisHashes[0],
	}

	for i := range signers {
		var proofs *storage.ProofStorage
		if i == 0 && db != "" {
			proofs, err = storage.Open(db, genesis)
		} else {
			proofs, err = storage.OpenInMemory(genesis)
		}
		if err != nil {
			sim.close()
			return nil, err
		}
		sim.proofs = append(sim.proofs, proofs)
	}

	for i, signer := range signers {
		var nodeDataDir string
		if i == 0 {
			nodeDataDir = dataDir
		}

		service, err := finality.NewService(finality.ServiceConfig{
			Logger:       finality.NewZapLogger(log.Logger.With(zap.Int("node", i))),
			Config:       config,
			Signer:       signer,
			Verifier:     finality.Ed25519Verifier{},
			WeightOracle: oracle,
			BlockStorage: sim.chain,
			ProofStorage: sim.proofs[i],
			Sink:         sim.broadcast(i),
			Peers:        sim.peers(i),
			DataDir:      nodeDataDir,
			PollInterval: tick,
			SyncInterval: 4 * config.StepDuration,
			StartTime:    sim.start,
		})
		if err != nil {
			sim.close()
			return nil, err
		}
		sim.services = append(sim.services, service)
	}

	return sim, nil
}

func (s *simulation) broadcast(from int) finality.MessageSink {
	return func(msg *finality.Message) {
		for i, service := range s.services {
			if i != from {
				service.HandleMessages([]*finality.Message{msg})
			}
		}
	}
}

func (s *simulation) peers(self int) func() []finality.RemoteProofAPI {
	return func() []finality.RemoteProofAPI {
		var peers []finality.RemoteProofAPI
		for i, proofs := range s.proofs {
			if i != self {
				peers = append(peers, finality.ProofStorageAPI{Storage: proofs})
			}
		}
		return peers
	}
}

// run grows the chain by one block per tick until the first voter finalized targetHeight.
func (s *simulation) run(c *cobra.Command, targetHeight uint64) error {
	g, ctx := errgroup.WithContext(c.Context())

	ticks := make([]chan time.Time, len(s.services))
	for i, service := range s.services {
		ticks[i] = make(chan time.Time)
		g.Go(func() error {
			return service.Run(ctx, ticks[i])
		})
	}

	err := s.drive(ctx, ticks, targetHeight)
	for _, t := range ticks {
		close(t)
	}
	return errors.Join(err, g.Wait())
}

func (s *simulation) drive(ctx context.Context, ticks []chan time.Time, targetHeight uint64) error {
	now := s.start
	for n := uint64(0); s.proofs[0].Statistics().Height < targetHeight; n++ {
		if n > maxTicksPerBlock*targetHeight {
			return fmt.Errorf("height %d was not finalized after %d ticks", targetHeight, n)
		}

		now = now.Add(s.tick)
		s.chain.grow()
		for _, t := range ticks {
			select {
			case t <- now:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (s *simulation) close() {
	for _, service := range s.services {
		if err := service.Close(); err != nil {
			s.log.Warn("Could not close service", zap.Error(err))
		}
	}
	for _, proofs := range s.proofs {
		if err := proofs.Close(); err != nil {
			s.log.Warn("Could not close proof storage", zap.Error(err))
		}
	}
}
