package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read CONTROLLER REGISTER...",
	Short: "Read registers",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctl := args[0]
		for _, reg := range args[1:] {
			v, err := s.Read(ctl, reg)
			if err != nil {
				return fmt.Errorf("%s %s: %w", ctl, reg, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), row(reg, v))
		}
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set CONTROLLER REGISTER VALUE...",
	Short: "Write a register and show what the controller stored",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctl, reg := args[0], args[1]
		v, err := s.Write(ctl, reg, strings.Join(args[2:], " "))
		if err != nil {
			return fmt.Errorf("%s %s: %w", ctl, reg, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), row(reg, v))
		return nil
	},
}

var helpRegCmd = &cobra.Command{
	Use:   "describe CONTROLLER [REGISTER]",
	Short: "Describe a register, or list them all",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		ctl := args[0]
		if len(args) == 2 {
			d, err := s.Help(ctl, args[1])
			if err != nil {
				return fmt.Errorf("%s %s: %w", ctl, args[1], err)
			}
			fmt.Fprintln(out, row(args[1], d))
			return nil
		}
		names, err := s.Registers(ctl)
		if err != nil {
			return fmt.Errorf("%s: %w", ctl, err)
		}
		for _, n := range names {
			d, err := s.Help(ctl, n)
			if err != nil {
				return fmt.Errorf("%s %s: %w", ctl, n, err)
			}
			fmt.Fprintln(out, labelStyle.Render(n)+d)
		}
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan CONTROLLER",
	Short: "List the probes on a controller's one-wire bus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		addrs, err := s.Scan(args[0])
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s: %d sensors found", args[0], len(addrs))))
		for _, a := range addrs {
			fmt.Fprintln(out, "  "+a.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(readCmd, setCmd, helpRegCmd, scanCmd)
}
