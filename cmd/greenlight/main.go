package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenlight-sh/greenlight/pkg/client"
	"github.com/greenlight-sh/greenlight/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "greenlight",
	Short: "Greenlight - approval-gated blue/green deployments",
	Long: `Greenlight releases new images by deploying them into an idle slot,
waiting for readiness, flipping the traffic selector, and observing the
result before promoting. Anything that goes wrong after the switch is
rolled back automatically.

Every release waits at a manual approval gate before it touches the
platform.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Greenlight version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Greenlight server address")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(rollbackCmd)
}

func apiClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("server")
	return client.New(addr)
}

// Service commands
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage services",
}

var serviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered services",
	RunE: func(cmd *cobra.Command, args []string) error {
		services, err := apiClient(cmd).ListServices(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tNAMESPACE\tIMAGE\tREPLICAS\tACTIVE SLOT")
		for _, s := range services {
			slot := string(s.ActiveSlot)
			if slot == "" {
				slot = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.Name, s.Namespace, s.Image, s.Replicas, slot)
		}
		return w.Flush()
	},
}

var serviceGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := apiClient(cmd).GetService(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Name:           %s\n", s.Name)
		fmt.Printf("Namespace:      %s\n", s.Namespace)
		fmt.Printf("Image:          %s\n", s.Image)
		if s.PreviousImage != "" {
			fmt.Printf("Previous image: %s\n", s.PreviousImage)
		}
		fmt.Printf("Replicas:       %d\n", s.Replicas)
		if s.ActiveSlot != "" {
			fmt.Printf("Active slot:    %s\n", s.ActiveSlot)
		} else {
			fmt.Printf("Active slot:    (never released)\n")
		}
		if s.HealthCheck != nil {
			fmt.Printf("Health check:   %s %s\n", s.HealthCheck.Type, s.HealthCheck.Endpoint)
		}
		return nil
	},
}

func init() {
	serviceCmd.AddCommand(serviceListCmd)
	serviceCmd.AddCommand(serviceGetCmd)
}

// Release commands
var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Manage releases",
}

var releaseCreateCmd = &cobra.Command{
	Use:   "create SERVICE",
	Short: "Create a release for a service",
	Long: `Create a release of a new image for a service. The release waits at
the approval gate until someone runs 'greenlight approve'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")

		release, err := apiClient(cmd).CreateRelease(cmd.Context(), args[0], image)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Release created: %s\n", release.ID)
		fmt.Printf("  Image: %s\n", release.Image)
		fmt.Printf("  Slot:  %s -> %s\n", slotOrNone(release.FromSlot), release.ToSlot)
		fmt.Println()
		fmt.Printf("Waiting for approval. Approve with:\n")
		fmt.Printf("  greenlight approve %s --by <you>\n", release.ID)
		return nil
	},
}

var releaseListCmd = &cobra.Command{
	Use:   "list [SERVICE]",
	Short: "List releases, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := apiClient(cmd)

		var releases []*types.Release
		var err error
		if len(args) == 1 {
			releases, err = c.ListServiceReleases(cmd.Context(), args[0])
		} else {
			releases, err = c.ListReleases(cmd.Context())
		}
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSERVICE\tIMAGE\tSTATE\tAGE")
		for _, r := range releases {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				shortID(r.ID), r.ServiceName, r.Image, r.State, age(r.CreatedAt))
		}
		return w.Flush()
	},
}

var releaseStatusCmd = &cobra.Command{
	Use:   "status RELEASE_ID",
	Short: "Show a release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := apiClient(cmd).GetRelease(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Release:  %s\n", r.ID)
		fmt.Printf("Service:  %s\n", r.ServiceName)
		fmt.Printf("Image:    %s\n", r.Image)
		fmt.Printf("Slots:    %s -> %s\n", slotOrNone(r.FromSlot), r.ToSlot)
		fmt.Printf("State:    %s\n", r.State)
		if r.Reason != "" {
			fmt.Printf("Reason:   %s\n", r.Reason)
		}
		if r.Approval != nil && r.Approval.Decided() {
			fmt.Printf("Approval: %s by %s\n", r.Approval.Decision, r.Approval.Approver)
		}
		fmt.Printf("Created:  %s\n", r.CreatedAt.Format(time.RFC3339))
		if !r.FinishedAt.IsZero() {
			fmt.Printf("Finished: %s\n", r.FinishedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var releaseEventsCmd = &cobra.Command{
	Use:   "events RELEASE_ID",
	Short: "Show a release's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trail, err := apiClient(cmd).ReleaseEvents(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tMESSAGE")
		for _, e := range trail {
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.Message)
		}
		return w.Flush()
	},
}

func init() {
	releaseCmd.AddCommand(releaseCreateCmd)
	releaseCmd.AddCommand(releaseListCmd)
	releaseCmd.AddCommand(releaseStatusCmd)
	releaseCmd.AddCommand(releaseEventsCmd)

	releaseCreateCmd.Flags().String("image", "", "Image to release")
	_ = releaseCreateCmd.MarkFlagRequired("image")
}

// Approval commands
var approveCmd = &cobra.Command{
	Use:   "approve RELEASE_ID",
	Short: "Approve a release waiting at the gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approver, _ := cmd.Flags().GetString("by")
		comment, _ := cmd.Flags().GetString("comment")

		release, err := apiClient(cmd).Approve(cmd.Context(), args[0], approver, comment)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Release %s approved by %s\n", shortID(release.ID), approver)
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject RELEASE_ID",
	Short: "Reject a release waiting at the gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approver, _ := cmd.Flags().GetString("by")
		comment, _ := cmd.Flags().GetString("comment")

		release, err := apiClient(cmd).Reject(cmd.Context(), args[0], approver, comment)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Release %s rejected by %s\n", shortID(release.ID), approver)
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback SERVICE",
	Short: "Release the service's previous image",
	Long: `Create a pre-approved release that deploys the service's previously
promoted image through the normal blue/green path.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		operator, _ := cmd.Flags().GetString("by")

		release, err := apiClient(cmd).Rollback(cmd.Context(), args[0], operator)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Rollback release created: %s\n", release.ID)
		fmt.Printf("  Image: %s\n", release.Image)
		return nil
	},
}

func init() {
	approveCmd.Flags().String("by", "", "Who is approving (required)")
	approveCmd.Flags().String("comment", "", "Optional comment")
	_ = approveCmd.MarkFlagRequired("by")

	rejectCmd.Flags().String("by", "", "Who is rejecting (required)")
	rejectCmd.Flags().String("comment", "", "Optional comment")
	_ = rejectCmd.MarkFlagRequired("by")

	rollbackCmd.Flags().String("by", "", "Who is rolling back (required)")
	_ = rollbackCmd.MarkFlagRequired("by")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func slotOrNone(slot types.SlotColor) string {
	if slot == "" {
		return "(none)"
	}
	return string(slot)
}

func age(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
