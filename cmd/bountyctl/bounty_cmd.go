package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"whistlechain/gateway/routes"
	"whistlechain/native/bounty"
)

func (c *cli) api() *client { return newClient(c.prof) }

// call performs a JSON request and prints the response.
func (c *cli) call(method, path string, payload interface{}) int {
	data, err := c.api().doJSON(c.ctx, method, path, payload)
	if err != nil {
		return c.fail(err)
	}
	if err := printJSON(c.stdout, data); err != nil {
		return c.fail(err)
	}
	return 0
}

func requireID(flagName, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("-%s is required", flagName)
	}
	if _, err := bounty.ParseID(value); err != nil {
		return "", fmt.Errorf("-%s: %w", flagName, err)
	}
	return url.PathEscape(value), nil
}

func (c *cli) runDeposit(args []string) int {
	fs := c.flags("deposit")
	owner := fs.String("owner", "", "account to credit")
	tokenFlag := fs.String("token", "NATIVE", "token type (NATIVE or STABLE)")
	amount := fs.Uint64("amount", 0, "amount to credit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*owner) == "" {
		return c.failf("-owner is required")
	}
	token, err := bounty.ParseTokenType(*tokenFlag)
	if err != nil {
		return c.fail(err)
	}
	if *amount == 0 {
		return c.failf("-amount must be positive")
	}
	return c.call(http.MethodPost, "/v1/deposits", map[string]interface{}{
		"owner":     strings.TrimSpace(*owner),
		"tokenType": token,
		"amount":    *amount,
	})
}

func (c *cli) runBalance(args []string) int {
	fs := c.flags("balance")
	owner := fs.String("owner", "", "account to inspect (default: caller)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path := "/v1/accounts/me/balances"
	if o := strings.TrimSpace(*owner); o != "" {
		path = "/v1/accounts/" + url.PathEscape(o) + "/balances"
	}
	return c.call(http.MethodGet, path, nil)
}

func (c *cli) runCreate(args []string) int {
	fs := c.flags("create")
	title := fs.String("title", "", "bounty title")
	description := fs.String("description", "", "bounty description")
	tokenFlag := fs.String("token", "NATIVE", "token type (NATIVE or STABLE)")
	amount := fs.Uint64("amount", 0, "reward locked in escrow")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*title) == "" {
		return c.failf("-title is required")
	}
	if *amount == 0 {
		return c.failf("-amount must be positive")
	}
	token, err := bounty.ParseTokenType(*tokenFlag)
	if err != nil {
		return c.fail(err)
	}
	return c.call(http.MethodPost, "/v1/bounties", map[string]interface{}{
		"title":       *title,
		"description": *description,
		"amount":      *amount,
		"tokenType":   token,
	})
}

func (c *cli) runList(args []string) int {
	fs := c.flags("list")
	status := fs.String("status", "", "filter by status (open, claimed, closed)")
	creator := fs.String("creator", "", "filter by creator")
	mine := fs.Bool("mine", false, "only bounties created by the caller")
	limit := fs.Int("limit", 0, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := url.Values{}
	if s := strings.TrimSpace(*status); s != "" {
		if _, err := bounty.ParseBountyStatus(s); err != nil {
			return c.fail(err)
		}
		query.Set("status", s)
	}
	if s := strings.TrimSpace(*creator); s != "" {
		query.Set("creator", s)
	}
	if *mine {
		query.Set("mine", "true")
	}
	if *limit > 0 {
		query.Set("limit", strconv.Itoa(*limit))
	}
	path := "/v1/bounties"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.call(http.MethodGet, path, nil)
}

func (c *cli) runShow(args []string) int {
	fs := c.flags("show")
	idFlag := fs.String("id", "", "bounty id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := requireID("id", *idFlag)
	if err != nil {
		return c.fail(err)
	}
	return c.call(http.MethodGet, "/v1/bounties/"+id, nil)
}

func (c *cli) runTip(args []string) int {
	fs := c.flags("tip")
	idFlag := fs.String("bounty", "", "bounty id")
	evidence := fs.String("evidence", "", "evidence reference")
	evidenceFile := fs.String("evidence-file", "", "upload this file and reference its digest")
	payload := fs.String("payload", "", "encrypted payload")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := requireID("bounty", *idFlag)
	if err != nil {
		return c.fail(err)
	}
	if *evidence != "" && *evidenceFile != "" {
		return c.failf("-evidence and -evidence-file are mutually exclusive")
	}
	ref := *evidence
	if *evidenceFile != "" {
		if ref, err = c.uploadEvidence(*evidenceFile); err != nil {
			return c.failf("upload evidence: %v", err)
		}
		fmt.Fprintf(c.stderr, "uploaded evidence %s\n", ref)
	}
	if strings.TrimSpace(ref) == "" && strings.TrimSpace(*payload) == "" {
		return c.failf("a tip needs evidence or a payload")
	}
	return c.call(http.MethodPost, "/v1/bounties/"+id+"/tips", map[string]interface{}{
		"evidenceReference": ref,
		"encryptedPayload":  *payload,
	})
}

func (c *cli) uploadEvidence(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	api := c.api()
	req, err := api.newRequest(c.ctx, http.MethodPost, "/v1/evidence", file)
	if err != nil {
		return "", err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")
	data, _, err := api.send(req)
	if err != nil {
		return "", err
	}
	var resp struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", err
	}
	if resp.Reference == "" {
		return "", errors.New("gateway returned no reference")
	}
	return resp.Reference, nil
}

func (c *cli) runTips(args []string) int {
	return c.listChildren("tips", args)
}

func (c *cli) runClaims(args []string) int {
	return c.listChildren("claims", args)
}

func (c *cli) listChildren(kind string, args []string) int {
	fs := c.flags(kind)
	idFlag := fs.String("bounty", "", "bounty id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := requireID("bounty", *idFlag)
	if err != nil {
		return c.fail(err)
	}
	return c.call(http.MethodGet, "/v1/bounties/"+id+"/"+kind, nil)
}

func (c *cli) runClaim(args []string) int {
	fs := c.flags("claim")
	idFlag := fs.String("bounty", "", "bounty id")
	proof := fs.String("proof", "", "proof supporting the claim")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := requireID("bounty", *idFlag)
	if err != nil {
		return c.fail(err)
	}
	if strings.TrimSpace(*proof) == "" {
		return c.failf("-proof is required")
	}
	return c.call(http.MethodPost, "/v1/bounties/"+id+"/claims", map[string]interface{}{"proof": *proof})
}

func (c *cli) runVerify(args []string) int {
	fs := c.flags("verify")
	idFlag := fs.String("claim", "", "claim id")
	approve := fs.Bool("approve", false, "approve the claim")
	reject := fs.Bool("reject", false, "reject the claim")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := requireID("claim", *idFlag)
	if err != nil {
		return c.fail(err)
	}
	if *approve == *reject {
		return c.failf("exactly one of -approve or -reject is required")
	}
	return c.call(http.MethodPost, "/v1/claims/"+id+"/verify", map[string]interface{}{"approve": *approve})
}

func (c *cli) runClose(args []string) int {
	fs := c.flags("close")
	idFlag := fs.String("bounty", "", "bounty id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, err := requireID("bounty", *idFlag)
	if err != nil {
		return c.fail(err)
	}
	return c.call(http.MethodPost, "/v1/bounties/"+id+"/close", nil)
}

func (c *cli) runExport(args []string) int {
	fs := c.flags("export")
	format := fs.String("format", "csv", "csv, jsonl or parquet")
	status := fs.String("status", "", "filter by status")
	creator := fs.String("creator", "", "filter by creator")
	out := fs.String("out", "", "write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := url.Values{"format": {*format}}
	if s := strings.TrimSpace(*status); s != "" {
		query.Set("status", s)
	}
	if s := strings.TrimSpace(*creator); s != "" {
		query.Set("creator", s)
	}
	api := c.api()
	req, err := api.newRequest(c.ctx, http.MethodGet, "/v1/exports/bounties?"+query.Encode(), nil)
	if err != nil {
		return c.fail(err)
	}
	data, header, err := api.send(req)
	if err != nil {
		return c.fail(err)
	}
	if *out == "" {
		_, err = c.stdout.Write(data)
	} else {
		err = os.WriteFile(*out, data, 0o600)
	}
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stderr, "checksum %s\n", header.Get(routes.HeaderExportChecksum))
	return 0
}

func (c *cli) runAudit(args []string) int {
	fs := c.flags("audit")
	principal := fs.String("principal", "", "only entries for this principal")
	limit := fs.Int("limit", 0, "maximum entries")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := url.Values{}
	if s := strings.TrimSpace(*principal); s != "" {
		query.Set("principal", s)
	}
	if *limit > 0 {
		query.Set("limit", strconv.Itoa(*limit))
	}
	path := "/v1/admin/audit"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.call(http.MethodGet, path, nil)
}
