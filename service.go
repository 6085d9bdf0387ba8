// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package finality

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval = time.Second
	defaultSyncRetries  = 2
	defaultSyncBackoff  = 100 * time.Millisecond

	finalizationTaskName = "finalization task"
	proofSyncTaskName    = "proof synchronization task"
)

type ServiceConfig struct {
	Logger       Logger
	Config       Config
	Signer       Signer
	Verifier     SignatureVerifier
	WeightOracle WeightOracle
	BlockStorage BlockStorage
	ProofStorage ProofStorage
	// Sink broadcasts the messages of the local voter. Optional.
	Sink MessageSink
	// Subscriber is told about finalized blocks. Optional.
	Subscriber Subscriber
	// Peers lists the peers proofs are pulled from. Optional.
	Peers func() []RemoteProofAPI
	// Registerer receives the metrics of the service. A private registry is used when nil.
	Registerer prometheus.Registerer
	// DataDir holds the voting status and the votes backup. Votes are kept in memory when empty.
	DataDir      string
	PollInterval time.Duration
	SyncInterval time.Duration
	StartTime    time.Time
}

type epochStatus uint8

const (
	epochContinue epochStatus = iota
	epochWait
	epochAdvance
)

// Service runs the finalization of the local node: it votes, collects the votes of peers,
// persists proofs and pulls missing proofs from peers.
type Service struct {
	ServiceConfig

	// serializes polls, the orchestrator has a single driver
	lock sync.Mutex

	contextFactory FinalizationContextFactory
	aggregator     *MultiRoundMessageAggregator
	orchestrator   *Orchestrator
	finalizer      func() error
	synchronizer   *ProofSynchronizer
	syncDriver     *ProofSyncDriver
	statusFile     *VotingStatusFile
	votesBackup    *VotesBackup
	metrics        *Metrics
	runner         *TaskRunner
	syncRunner     *TaskRunner
}

func NewService(conf ServiceConfig) (*Service, error) {
	s := &Service{
		ServiceConfig: conf,
	}
	return s, s.init()
}

func (s *Service) init() error {
	if err := s.Config.Verify(); err != nil {
		return err
	}

	if s.Registerer == nil {
		s.Registerer = prometheus.NewRegistry()
	}
	if s.PollInterval == 0 {
		s.PollInterval = defaultPollInterval
	}
	if s.SyncInterval == 0 {
		s.SyncInterval = s.Config.StepDuration
	}

	metrics, err := NewMetrics(s.Registerer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	s.metrics = metrics

	switch {
	case s.DataDir != "":
		s.statusFile = NewVotingStatusFile(s.DataDir)
		if s.Config.EnableVotesBackup {
			if s.votesBackup, err = NewVotesBackup(s.DataDir); err != nil {
				return fmt.Errorf("failed to open votes backup: %w", err)
			}
		}
	case s.Config.EnableVotesBackup:
		s.votesBackup = NewMemVotesBackup()
	}

	status, err := s.initialVotingStatus()
	if err != nil {
		return err
	}

	statistics := s.ProofStorage.Statistics()
	s.metrics.observeFinalizedHeight(statistics.Height)

	s.contextFactory = NewFinalizationContextFactory(s.Config, s.WeightOracle)
	s.aggregator = NewMultiRoundMessageAggregator(
		s.Logger,
		s.Config.MessageSynchronizationMaxResponseSize,
		status.Round,
		HeightHashPair{Height: statistics.Height, Hash: statistics.Hash},
		s.newRoundAggregator,
	)
	s.orchestrator = NewOrchestrator(
		s.Logger,
		status,
		NewStageAdvancerFactory(s.Config.StepDuration, s.aggregator),
		NewMessageFactory(s.Logger, s.Config, s.BlockStorage, s.ProofStorage, s.Signer, nil),
		s.isEligible,
		s.send,
	)
	s.finalizer = CreateFinalizer(s.Logger, s.aggregator, SubscriberFunc(s.notifyFinalizedBlock), s.ProofStorage)

	if err := s.restoreVotes(status.Round.Epoch); err != nil {
		return err
	}

	s.synchronizer = NewProofSynchronizer(
		s.Logger,
		s.Config.VotingSetGrouping,
		s.Config.UnfinalizedBlocksDuration,
		s.BlockStorage,
		s.ProofStorage,
		s.validateProof,
	)

	s.runner = NewTaskRunner(s.Logger, s.StartTime)
	s.runner.AddTask(&PeriodicTask{
		Name:     finalizationTaskName,
		Interval: s.PollInterval,
		Run: func(_ context.Context, now time.Time) error {
			return s.Poll(now)
		},
	})

	s.syncRunner = NewTaskRunner(s.Logger, s.StartTime)
	if s.Peers != nil {
		s.syncDriver = NewProofSyncDriver(s.Logger, s.synchronizer, s.Peers, defaultSyncBackoff, defaultSyncRetries, s.metrics.observeSyncResult)
		s.syncRunner.AddTask(&PeriodicTask{
			Name:       proofSyncTaskName,
			StartDelay: s.SyncInterval,
			Interval:   s.SyncInterval,
			Run: func(ctx context.Context, _ time.Time) error {
				_, err := s.syncDriver.Sync(ctx)
				return err
			},
		})
	}

	return nil
}

func (s *Service) initialVotingStatus() (VotingStatus, error) {
	if s.Config.EnableRevoteOnBoot {
		round := s.ProofStorage.Statistics().Round
		return VotingStatus{Round: FinalizationRound{Epoch: round.Epoch, Point: round.Point + 1}}, nil
	}

	if s.statusFile == nil {
		return VotingStatus{Round: FinalizationRound{Epoch: 1, Point: 1}}, nil
	}

	status, err := s.statusFile.Load()
	if err != nil {
		return VotingStatus{}, fmt.Errorf("failed to load voting status: %w", err)
	}
	return status, nil
}

// restoreVotes feeds the backed up votes of the local voter back into the aggregator.
func (s *Service) restoreVotes(epoch uint32) error {
	if s.votesBackup == nil {
		return nil
	}

	messages, err := s.votesBackup.Load(epoch)
	if err != nil {
		return fmt.Errorf("failed to load votes backup: %w", err)
	}

	modifier := s.aggregator.Modifier()
	defer modifier.Release()

	for _, msg := range messages {
		result := modifier.Add(msg)
		s.Logger.Debug("Restored backed up vote", zap.Stringer("step", msg.StepIdentifier), zap.Stringer("result", result))
	}
	return nil
}

func (s *Service) newRoundAggregator(round FinalizationRound) RoundMessageAggregator {
	return NewRoundMessageAggregator(
		s.Logger,
		s.Config.MessageSynchronizationMaxResponseSize,
		round,
		s.contextFactory(round.Epoch),
		s.Verifier,
	)
}

func (s *Service) isEligible(msg *Message) bool {
	return s.contextFactory(msg.StepIdentifier.Epoch).IsEligibleVoter(msg.Signature.Signer)
}

func (s *Service) validateProof(proof *FinalizationProof) VerifyProofResult {
	return VerifyFinalizationProof(s.Logger, proof, s.contextFactory(proof.Round.Epoch), s.Verifier)
}

func (s *Service) send(msg *Message) {
	if s.votesBackup != nil {
		if err := s.votesBackup.Append(msg); err != nil {
			s.Logger.Error("Could not back up vote, not sending it", zap.Stringer("step", msg.StepIdentifier), zap.Error(err))
			return
		}
	}

	modifier := s.aggregator.Modifier()
	result := modifier.Add(msg)
	modifier.Release()

	s.Logger.Verbo("Adding own vote", zap.Stringer("step", msg.StepIdentifier), zap.Stringer("result", result))
	s.metrics.observeSentMessage(msg.StepIdentifier.Stage)

	if s.Sink != nil {
		s.Sink(msg)
	}
}

func (s *Service) notifyFinalizedBlock(round FinalizationRound, height uint64, hash Hash) {
	s.metrics.observeFinalizedHeight(height)
	if s.Subscriber != nil {
		s.Subscriber.NotifyFinalizedBlock(round, height, hash)
	}
}

// Poll moves the local voter forward at now and persists any newly finalized block.
func (s *Service) Poll(now time.Time) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	round := s.orchestrator.VotingStatus().Round
	status, epoch := s.calculateEpochStatus(round.Epoch)
	switch status {
	case epochWait:
		return nil
	case epochAdvance:
		if err := s.orchestrator.SetEpoch(epoch); err != nil {
			return err
		}
		round = s.orchestrator.VotingStatus().Round
		s.Logger.Debug("Advancing to epoch", zap.Stringer("round", round))

		if s.votesBackup != nil {
			if err := s.votesBackup.Prune(epoch - 1); err != nil {
				s.Logger.Warn("Could not prune votes backup", zap.Uint32("epoch", epoch), zap.Error(err))
			}
		}
	}

	view := s.aggregator.View()
	maxRound := view.MaxFinalizationRound()
	view.Release()

	if maxRound.Less(round) {
		modifier := s.aggregator.Modifier()
		err := modifier.SetMaxFinalizationRound(round)
		modifier.Release()
		if err != nil {
			return err
		}
	}

	s.orchestrator.Poll(now)

	votingStatus := s.orchestrator.VotingStatus()
	s.metrics.observeVotingStatus(votingStatus)
	if s.statusFile != nil {
		if err := s.statusFile.Save(votingStatus); err != nil {
			return fmt.Errorf("failed to save voting status: %w", err)
		}
	}

	if err := s.finalizer(); err != nil {
		return err
	}

	view = s.aggregator.View()
	s.metrics.observeRounds(view.Size())
	view.Release()
	return nil
}

// calculateEpochStatus decides whether the voter can move past epoch. It can once the last block
// of the voting set of epoch is finalized and present in the local chain.
func (s *Service) calculateEpochStatus(epoch uint32) (epochStatus, uint32) {
	statistics := s.ProofStorage.Statistics()

	isStorageEpochAhead := statistics.Round.Epoch > epoch
	if isStorageEpochAhead {
		s.Logger.Info("Proof storage epoch is out of sync with current epoch",
			zap.Uint32("storage", statistics.Round.Epoch), zap.Uint32("current", epoch))
	}

	if !isStorageEpochAhead && statistics.Height != VotingSetEndHeight(epoch, s.Config.VotingSetGrouping) {
		return epochContinue, 0
	}

	chainHeight := s.BlockStorage.ChainHeight()
	if chainHeight < statistics.Height {
		s.Logger.Warn("Waiting for sync before transitioning from epoch",
			zap.Uint32("epoch", epoch), zap.Uint64("height", chainHeight), zap.Uint64("finalized", statistics.Height))
		return epochWait, 0
	}

	hashes, err := s.BlockStorage.LoadHashesFrom(statistics.Height, 1)
	if err != nil || len(hashes) != 1 {
		s.Logger.Warn("Waiting for finalized block before transitioning from epoch",
			zap.Uint32("epoch", epoch), zap.Uint64("finalized", statistics.Height), zap.Error(err))
		return epochWait, 0
	}

	if hashes[0] != statistics.Hash {
		s.Logger.Warn("Waiting for sync before transitioning from epoch",
			zap.Uint32("epoch", epoch), zap.Stringer("hash", hashes[0]), zap.Stringer("finalized", statistics.Hash))
		return epochWait, 0
	}

	return epochAdvance, statistics.Round.Epoch + 1
}

// HandleMessages folds messages received from peers into the aggregator.
func (s *Service) HandleMessages(messages []*Message) []AddResult {
	modifier := s.aggregator.Modifier()
	defer modifier.Release()

	results := make([]AddResult, len(messages))
	for i, msg := range messages {
		results[i] = modifier.Add(msg)
		s.metrics.observeAddResult(results[i])

		switch results[i] {
		case AddFailureConflicting, AddFailureProcessing:
			s.Logger.Warn("Rejected finalization message",
				zap.Stringer("step", msg.StepIdentifier), zap.Stringer("signer", msg.Signature.Signer), zap.Stringer("result", results[i]))
		default:
			s.Logger.Verbo("Received finalization message",
				zap.Stringer("step", msg.StepIdentifier), zap.Stringer("signer", msg.Signature.Signer), zap.Stringer("result", results[i]))
		}
	}
	return results
}

// ShortHashes returns the short hashes of every message held.
func (s *Service) ShortHashes() []ShortHash {
	view := s.aggregator.View()
	defer view.Release()

	return view.ShortHashes()
}

// UnknownMessages returns the messages of rounds starting at minRound a peer does not know about.
func (s *Service) UnknownMessages(minRound FinalizationRound, known ShortHashSet) []*Message {
	view := s.aggregator.View()
	defer view.Release()

	return view.UnknownMessages(minRound, known)
}

func (s *Service) VotingStatus() VotingStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.orchestrator.VotingStatus()
}

// SyncProofs pulls missing proofs from peers once.
func (s *Service) SyncProofs(ctx context.Context) (InteractionResult, error) {
	if s.syncDriver == nil {
		return InteractionNeutral, nil
	}
	return s.syncDriver.Sync(ctx)
}

// Run polls on every tick until ctx is done or ticks is closed. Proof synchronization
// runs beside polling and skips ticks while a synchronization is in flight.
func (s *Service) Run(ctx context.Context, ticks <-chan time.Time) error {
	g, ctx := errgroup.WithContext(ctx)
	syncTicks := make(chan time.Time, 1)

	g.Go(func() error {
		defer close(syncTicks)
		for {
			select {
			case <-ctx.Done():
				return nil
			case now, ok := <-ticks:
				if !ok {
					return nil
				}

				s.runner.Tick(ctx, now)
				select {
				case syncTicks <- now:
				default:
					s.Logger.Verbo("Dropping tick of proof synchronization")
				}
			}
		}
	})

	g.Go(func() error {
		for now := range syncTicks {
			s.syncRunner.Tick(ctx, now)
		}
		return nil
	})

	return g.Wait()
}

func (s *Service) Close() error {
	var result *multierror.Error
	if s.votesBackup != nil {
		if err := s.votesBackup.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
