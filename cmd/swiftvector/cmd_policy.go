// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/governance"
	"github.com/stephen-sweeney/SwiftVector-sub001/services/swiftvector/governance/policies"
)

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the governance policy",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "List the rules of the configured policy in evaluation order",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return a.runPolicyShow()
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Print the SHA256 fingerprint of the policy in use",
			Long: `Prints the SHA256 of the configured policy file, or of the policy embedded
in the binary when none is configured, so operators can confirm which rules a
build enforces.`,
			Args: cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				return a.runPolicyVerify()
			},
		},
	)
	return cmd
}

func (a *app) runPolicyShow() error {
	engine, err := governance.LoadFile(a.cfg.Governance.PolicyPath)
	if err != nil {
		return err
	}
	if !a.cfg.Governance.Enabled {
		a.out.Warning("governance is disabled; rules below are not enforced")
	}
	for _, r := range engine.Rules() {
		var conds []string
		if len(r.Kinds) > 0 {
			conds = append(conds, "kinds="+strings.Join(r.Kinds, ","))
		}
		if r.AgentPattern != "" {
			conds = append(conds, "agent~"+r.AgentPattern)
		}
		if r.ActionPattern != "" {
			conds = append(conds, "action~"+r.ActionPattern)
		}
		if r.StatePattern != "" {
			conds = append(conds, "state~"+r.StatePattern)
		}
		a.out.Info(fmt.Sprintf("[%3d] %-5s %s  %s", r.Priority, r.Effect, r.ID, strings.Join(conds, " ")))
	}
	return nil
}

func (a *app) runPolicyVerify() error {
	data, source := policies.Default, "embedded"
	if p := a.cfg.Governance.PolicyPath; p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read policy: %w", err)
		}
		data, source = b, p
	}
	if _, err := governance.New(data); err != nil {
		a.out.Error(err.Error())
		return checkFailed(err)
	}
	a.out.KeyValues(
		[2]string{"source", source},
		[2]string{"bytes", fmt.Sprint(len(data))},
		[2]string{"sha256", fmt.Sprintf("%x", sha256.Sum256(data))},
	)
	return nil
}
