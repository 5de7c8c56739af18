package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type sessionsListResponse struct {
	Sessions []string `json:"sessions"`
}

type sessionDetailResponse struct {
	SessionID string `json:"sessionId"`
	State     string `json:"state"`
	Stats     any    `json:"stats"`
}

func runSessionsList(cmd *cobra.Command, server string) error {
	client := newAPIClient(server)
	var resp sessionsListResponse
	if err := client.getJSON(cmd.Context(), "/v1/sessions", &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(resp.Sessions) == 0 {
		fmt.Fprintln(out, "no sessions")
		return nil
	}
	for _, id := range resp.Sessions {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runSessionsGet(cmd *cobra.Command, server, id string) error {
	client := newAPIClient(server)
	var resp sessionDetailResponse
	if err := client.getJSON(cmd.Context(), "/v1/sessions/"+id, &resp); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session:  %s\n", resp.SessionID)
	fmt.Fprintf(out, "state:    %s\n", resp.State)
	fmt.Fprintf(out, "stats:    %v\n", resp.Stats)
	return nil
}

func runSessionsCancel(cmd *cobra.Command, server, id string) error {
	client := newAPIClient(server)
	if err := client.postJSON(cmd.Context(), "/v1/sessions/"+id+"/cancel", struct{}{}, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s cancelled\n", id)
	return nil
}
