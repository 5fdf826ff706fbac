// Package client talks to a tlockd node and seals bids offline.
package client

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"strings"
	"time"

	"TlockAuction/internal/api"
	"TlockAuction/internal/auction"
	"TlockAuction/internal/ibe"
	"TlockAuction/internal/symmetric"
	"TlockAuction/internal/timelock"
)

// Client connects to a node via HTTP.
type Client struct {
	baseURL string       // baseURL is the node's API root (e.g. "http://127.0.0.1:8080")
	http    *http.Client // http carries the requests
}

// New creates a client for the node at addr. A bare host:port gets an http scheme.
func New(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Params fetches the public params bids must be sealed under.
func (c *Client) Params(ctx context.Context) (*ibe.PublicParams, error) {
	var view api.ParamsView
	if err := c.do(ctx, http.MethodGet, "/params", nil, &view); err != nil {
		return nil, err
	}

	pp, err := ibe.ParsePublicParams(view.PublicParams)
	if err != nil {
		return nil, fmt.Errorf("parse node params:\n%w", err)
	}

	return pp, nil
}

// CreateAuction opens a new auction on the node.
func (c *Client) CreateAuction(ctx context.Context, req api.CreateRequest) (*api.AuctionView, error) {
	var view api.AuctionView
	if err := c.do(ctx, http.MethodPost, "/auctions", req, &view); err != nil {
		return nil, err
	}

	return &view, nil
}

// Auction fetches one auction.
func (c *Client) Auction(ctx context.Context, id string) (*api.AuctionView, error) {
	var view api.AuctionView
	if err := c.do(ctx, http.MethodGet, "/auctions/"+id, nil, &view); err != nil {
		return nil, err
	}

	return &view, nil
}

// Auctions lists every auction on the node.
func (c *Client) Auctions(ctx context.Context) ([]api.AuctionView, error) {
	var views []api.AuctionView
	if err := c.do(ctx, http.MethodGet, "/auctions", nil, &views); err != nil {
		return nil, err
	}

	return views, nil
}

// Propose submits a sealed bid for participant.
func (c *Client) Propose(ctx context.Context, id string, participant auction.AccountID, p auction.Proposal) error {
	return c.do(ctx, http.MethodPost, "/auctions/"+id+"/proposals", api.ProposalRequest{
		Participant: participant,
		Proposal:    p,
	}, nil)
}

// Complete runs a completion pass. A nil req lets the node use its own clock.
func (c *Client) Complete(ctx context.Context, id string, req *api.CompleteRequest) (*api.OutcomeView, error) {
	var body any
	if req != nil {
		body = req
	}

	var out api.OutcomeView
	if err := c.do(ctx, http.MethodPost, "/auctions/"+id+"/complete", body, &out); err != nil {
		return nil, err
	}

	return &out, nil
}

// SealBid encrypts a bid of amount under schedule so it opens once threshold
// of the scheduled slots have elapsed. cipher names the auction's suite.
func SealBid(pp *ibe.PublicParams, amount uint64, memo string, schedule []auction.Slot, threshold int, cipher string) (auction.Proposal, error) {
	suite, err := symmetric.ByName(cipher)
	if err != nil {
		return auction.Proposal{}, err
	}

	sealed, err := timelock.NewEngine(suite).Encrypt(pp, auction.EncodeBid(amount, memo), schedule, threshold, rand.Reader)
	if err != nil {
		return auction.Proposal{}, err
	}

	return auction.Proposal{
		Ciphertext: sealed.Ciphertext,
		Nonce:      sealed.Nonce,
		Capsule:    sealed.Capsule,
	}, nil
}

// SealBidFor seals a bid matching the schedule, threshold and cipher of view.
func SealBidFor(pp *ibe.PublicParams, view *api.AuctionView, amount uint64, memo string) (auction.Proposal, error) {
	schedule := make([]auction.Slot, len(view.Schedule))
	for i, s := range view.Schedule {
		schedule[i] = auction.Slot(s)
	}

	return SealBid(pp, amount, memo, schedule, view.Threshold, view.Cipher)
}
