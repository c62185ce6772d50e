package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"custodia-go/internal/api"
	"custodia-go/internal/config"
	"custodia-go/internal/handoff"
	"custodia-go/internal/ledger"
	"custodia-go/internal/ntt"
	"custodia-go/internal/squads"
	"custodia-go/internal/storage"
)

// app bundles the shared collaborators every command needs. Everything is
// constructed here and passed down; no package holds ambient connection state.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	client  *ledger.Client
	coord   *squads.Coordinator
	keypair solana.PrivateKey
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath, true)
	if err != nil {
		return nil, err
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	keypair, err := config.LoadKeypair(cfg.KeypairPath)
	if err != nil {
		return nil, err
	}
	client := ledger.New(cfg.RPCURL, cfg.WSURL, log,
		ledger.WithCommitment(commitment(cfg.Commitment)))

	programID := squads.DefaultProgramID
	if cfg.SquadsProgram != "" {
		programID, err = solana.PublicKeyFromBase58(cfg.SquadsProgram)
		if err != nil {
			return nil, fmt.Errorf("squads_program: %w", err)
		}
	}
	return &app{
		cfg:     cfg,
		log:     log,
		client:  client,
		coord:   squads.NewCoordinator(client, programID, log),
		keypair: keypair,
	}, nil
}

func commitment(s string) rpc.CommitmentType {
	switch s {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

func (a *app) manager() (solana.PublicKey, error) {
	if a.cfg.NTTManager == "" {
		return solana.PublicKey{}, fmt.Errorf("ntt_manager is not set in the config")
	}
	pk, err := solana.PublicKeyFromBase58(a.cfg.NTTManager)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("ntt_manager: %w", err)
	}
	return pk, nil
}

func (a *app) multisigAddress() (solana.PublicKey, error) {
	handle, err := storage.LoadHandle(a.cfg.HandlePath)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return handle.Address()
}

func (a *app) expectedVault() (*solana.PublicKey, error) {
	if a.cfg.ExpectedVault == "" {
		return nil, nil
	}
	pk, err := solana.PublicKeyFromBase58(a.cfg.ExpectedVault)
	if err != nil {
		return nil, fmt.Errorf("expected_vault: %w", err)
	}
	return &pk, nil
}

func (a *app) journal() (*storage.Journal, error) {
	return storage.NewJournal(a.cfg.JournalPath)
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "custodia",
		Short:         "Threshold-vault custody of program authority and NTT rate limits",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config/custodia.yaml", "path to the tool config")

	root.AddCommand(
		newCreateSquadCommand(&configPath),
		newManageLimitsCommand(&configPath),
		newTransferOwnershipCommand(&configPath),
		newStatusCommand(&configPath),
		newServeCommand(&configPath),
	)
	return root
}

func parseMembers(specs []string, fallback solana.PublicKey) ([]squads.Member, error) {
	if len(specs) == 0 {
		return []squads.Member{{Key: fallback, Permissions: squads.PermissionFull}}, nil
	}
	members := make([]squads.Member, 0, len(specs))
	for _, spec := range specs {
		key := spec
		perms := squads.PermissionFull
		if i := strings.IndexByte(spec, ':'); i >= 0 {
			key = spec[:i]
			perms = 0
			for _, c := range strings.ToLower(spec[i+1:]) {
				switch c {
				case 'p':
					perms |= squads.PermissionPropose
				case 'v':
					perms |= squads.PermissionVote
				case 'e':
					perms |= squads.PermissionExecute
				default:
					return nil, fmt.Errorf("member %q: unknown permission %q (want p/v/e)", spec, string(c))
				}
			}
		}
		pk, err := solana.PublicKeyFromBase58(key)
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", spec, err)
		}
		members = append(members, squads.Member{Key: pk, Permissions: perms})
	}
	return members, nil
}

func newCreateSquadCommand(configPath *string) *cobra.Command {
	var memberSpecs []string
	var threshold uint16
	cmd := &cobra.Command{
		Use:   "create-squad",
		Short: "Create a multisig and its vault, and cache the handle locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			members, err := parseMembers(memberSpecs, a.keypair.PublicKey())
			if err != nil {
				return err
			}
			res, err := a.coord.Create(cmd.Context(), a.keypair, members, threshold, 0)
			if err != nil {
				return err
			}
			if err := storage.SaveHandle(a.cfg.HandlePath, storage.MultisigHandle{
				MultisigPubkey:    res.Multisig.String(),
				CreationSignature: res.Signature.String(),
			}); err != nil {
				return err
			}
			fmt.Printf("New squad pubkey: %s\n", res.Multisig)
			fmt.Printf("Vault (index 0):  %s\n", res.Vault)
			fmt.Printf("Creation sig:     %s\n", res.Signature)
			fmt.Printf("Handle saved to %s\n", a.cfg.HandlePath)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&memberSpecs, "member", nil,
		"member as pubkey[:pve] (propose/vote/execute); default: the payer with all permissions")
	cmd.Flags().Uint16Var(&threshold, "threshold", 1, "approvals required to authorize execution")
	return cmd
}

func newManageLimitsCommand(configPath *string) *cobra.Command {
	var outbound, inbound, chain string
	var pause, unpause bool
	cmd := &cobra.Command{
		Use:   "manage-limits",
		Short: "Propose, approve and execute a rate-limit or pause update through the vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			manager, err := a.manager()
			if err != nil {
				return err
			}
			multisig, err := a.multisigAddress()
			if err != nil {
				return err
			}
			vault := a.coord.Vault(multisig, 0)

			set := 0
			for _, b := range []bool{outbound != "", inbound != "", pause, unpause} {
				if b {
					set++
				}
			}
			if set != 1 {
				return fmt.Errorf("set exactly one of --outbound, --inbound, --pause, --unpause")
			}

			var ix solana.Instruction
			var kind string
			switch {
			case outbound != "":
				limit, err := ntt.NativeAmount(outbound, a.cfg.TokenDecimals)
				if err != nil {
					return err
				}
				ix, err = ntt.NewSetOutboundLimitInstruction(manager, vault, limit)
				if err != nil {
					return err
				}
				kind = "set_outbound_limit"
			case inbound != "":
				if chain == "" {
					chain = a.cfg.PeerChain
				}
				chainID, err := ntt.ChainIDByName(chain)
				if err != nil {
					return err
				}
				limit, err := ntt.NativeAmount(inbound, a.cfg.TokenDecimals)
				if err != nil {
					return err
				}
				ix, err = ntt.NewSetInboundLimitInstruction(manager, vault, chainID, limit)
				if err != nil {
					return err
				}
				kind = "set_inbound_limit"
			default:
				ix, err = ntt.NewSetPausedInstruction(manager, vault, pause)
				if err != nil {
					return err
				}
				kind = "set_paused"
			}

			if !a.cfg.SendTxn {
				tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{},
					solana.TransactionPayer(vault))
				if err != nil {
					return err
				}
				encoded, err := a.client.DryRun(tx)
				if err != nil {
					return err
				}
				a.log.Info("send_txn is false, dry run only", zap.String("kind", kind))
				fmt.Printf("Unsigned %s transaction (base58): %s\n", kind, encoded)
				return nil
			}

			ctx := cmd.Context()
			res, err := a.coord.ProposeWithRetry(ctx, squads.ProposeParams{
				Multisig:     multisig,
				VaultIndex:   0,
				Instructions: []solana.Instruction{ix},
				Creator:      a.keypair,
				SelfApprove:  true,
			}, 3)
			if err != nil {
				return err
			}
			journal, err := a.journal()
			if err != nil {
				return err
			}
			defer journal.Close()
			if _, err := journal.RecordProposal(multisig.String(), res.Index, kind,
				res.Signature.String(), squads.StatusActive.String()); err != nil {
				return err
			}

			return a.executeIfApproved(ctx, journal, multisig, res.Index, kind)
		},
	}
	cmd.Flags().StringVar(&outbound, "outbound", "", "new outbound limit as a human token amount")
	cmd.Flags().StringVar(&inbound, "inbound", "", "new inbound limit as a human token amount")
	cmd.Flags().StringVar(&chain, "chain", "", "source chain for --inbound (default: peer_chain from config)")
	cmd.Flags().BoolVar(&pause, "pause", false, "pause transfers")
	cmd.Flags().BoolVar(&unpause, "unpause", false, "resume transfers")
	return cmd
}

// executeIfApproved finishes the one-shot flow: execute when the threshold is
// already met, otherwise report how many votes are still missing.
func (a *app) executeIfApproved(ctx context.Context, journal *storage.Journal, multisig solana.PublicKey, index uint64, kind string) error {
	prop, err := a.coord.FetchProposal(ctx, multisig, index)
	if err != nil {
		return err
	}
	if err := journal.UpdateStatus(multisig.String(), index, prop.Status.Kind.String()); err != nil {
		return err
	}
	if prop.Status.Kind != squads.StatusApproved {
		ms, err := a.coord.FetchMultisig(ctx, multisig)
		if err != nil {
			return err
		}
		fmt.Printf("Proposal %d is %s with %d of %d approvals; gather the remaining votes, then execute.\n",
			index, prop.Status.Kind, len(prop.Approved), ms.Threshold)
		return nil
	}
	sig, err := a.coord.Execute(ctx, multisig, index, a.keypair)
	if err != nil {
		return err
	}
	if err := journal.UpdateStatus(multisig.String(), index, squads.StatusExecuted.String()); err != nil {
		return err
	}
	fmt.Printf("%s executed: %s\n", kind, sig)
	return nil
}

func newTransferOwnershipCommand(configPath *string) *cobra.Command {
	var resumeIndex uint64
	var resume bool
	cmd := &cobra.Command{
		Use:   "transfer-ownership",
		Short: "Hand the manager's authority to the vault via delegate-then-claim",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			manager, err := a.manager()
			if err != nil {
				return err
			}
			multisig, err := a.multisigAddress()
			if err != nil {
				return err
			}
			expected, err := a.expectedVault()
			if err != nil {
				return err
			}

			protocol := handoff.New(a.client, a.coord, manager, a.log)
			params := handoff.Params{
				Owner:         a.keypair,
				Multisig:      multisig,
				Member:        a.keypair,
				ExpectedVault: expected,
			}

			if !a.cfg.SendTxn {
				a.log.Info("send_txn is false, dry run only",
					zap.Stringer("manager", manager),
					zap.Stringer("vault", a.coord.Vault(multisig, 0)))
				return nil
			}

			ctx := cmd.Context()
			var sig solana.Signature
			if resume {
				if cmd.Flags().Changed("resume-index") {
					sig, err = protocol.ResumeClaim(ctx, params, resumeIndex)
				} else {
					// The escrow persists, so a fresh claim proposal is safe.
					sig, err = protocol.Claim(ctx, params)
				}
			} else {
				sig, err = protocol.Run(ctx, params)
			}
			if err != nil {
				if handoff.IsDelegationFailed(err) {
					return fmt.Errorf("handoff aborted, nothing was changed: %w", err)
				}
				return err
			}
			if err := protocol.VerifyVaultOwnership(ctx, multisig); err != nil {
				return fmt.Errorf("claim confirmed but ownership check failed: %w", err)
			}
			fmt.Printf("Ownership transferred to the vault: %s\n", sig)
			return nil
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "skip the delegate phase and run the claim alone")
	cmd.Flags().Uint64Var(&resumeIndex, "resume-index", 0, "finish an existing claim proposal at this index")
	return cmd
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cached multisig's on-chain state and local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			multisig, err := a.multisigAddress()
			if err != nil {
				return err
			}
			info, err := a.coord.Info(cmd.Context(), multisig)
			if err != nil {
				return err
			}
			fmt.Printf("Multisig:          %s\n", info.Address)
			fmt.Printf("Vault (index 0):   %s\n", info.DefaultVault)
			fmt.Printf("Threshold:         %d\n", info.Threshold)
			fmt.Printf("Transaction index: %d\n", info.TransactionIndex)
			fmt.Printf("Members:\n")
			for _, m := range info.Members {
				fmt.Printf("  %s (mask %d)\n", m.Key, m.Permissions)
			}

			journal, err := a.journal()
			if err != nil {
				return err
			}
			defer journal.Close()
			entries, err := journal.ListProposals(multisig.String())
			if err != nil {
				return err
			}
			if len(entries) > 0 {
				fmt.Printf("Local journal:\n")
				for _, e := range entries {
					fmt.Printf("  #%d %s %s (%s)\n", e.TxIndex, e.Kind, e.Status, e.Signature)
				}
			}
			return nil
		},
	}
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP approval/status service",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			return api.New(a.coord, a.keypair, a.log).ListenAndServe(a.cfg.ListenAddr)
		},
	}
}
