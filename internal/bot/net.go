// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bot

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// =============================================================================
// SUBPROCESS PLUMBING
// =============================================================================

const subprocessTimeout = 2 * time.Minute

// runCommand executes a network utility and returns its separated output.
func runCommand(name string, args ...string) (stdout, stderr string, exitCode int, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), subprocessTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err = cmd.Run()
	exitCode = cmd.ProcessState.ExitCode()
	if _, isExit := err.(*exec.ExitError); isExit {
		// Non-zero exit is part of the output, not a failure to run.
		err = nil
	}
	return out.String(), errBuf.String(), exitCode, err
}

var whitespaceRe = regexp.MustCompile(`\s`)

// validTarget rejects arguments that could be mistaken for flags or split
// into multiple arguments.
func validTarget(target string) bool {
	return target != "" && !strings.HasPrefix(target, "-") && !whitespaceRe.MatchString(target)
}

// respondPages sends command output as fenced pages, the first as the
// response edit and the rest as followups.
func respondPages(s *discordgo.Session, i *discordgo.InteractionCreate, lines []string) {
	pages := codeBlockPages(lines)
	if len(pages) == 0 {
		editText(s, i, "No output.")
		return
	}
	editText(s, i, pages[0])
	for _, page := range pages[1:] {
		_, _ = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Content: page,
		})
	}
}

func outputLines(stdout, stderr string) []string {
	var lines []string
	for _, line := range strings.Split(stdout, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	for _, line := range strings.Split(stderr, "\n") {
		if line != "" {
			lines = append(lines, "[STDERR] "+line)
		}
	}
	return lines
}

// =============================================================================
// /ping
// =============================================================================

func (b *Bot) pingCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "ping",
		Description: "Get the bot's latency, or the network latency to a target.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "target",
				Description: "A host to ping. Omit for the bot's own latency.",
			},
		},
	}
}

func (b *Bot) handlePing(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := commandOptions(i)
	target := stringOption(opts, "target", "")
	if target == "" {
		latency := b.session.HeartbeatLatency().Round(time.Millisecond)
		_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: fmt.Sprintf("Pong! %dms", latency.Milliseconds()),
			},
		})
		return
	}
	if err := deferResponse(s, i); err != nil {
		return
	}
	if !validTarget(target) {
		editText(s, i, ":x: Invalid target.")
		return
	}
	stdout, stderr, _, err := runCommand("ping", "-c", "5", target)
	if err != nil {
		editText(s, i, ":x: Could not run ping: "+err.Error())
		return
	}
	respondPages(s, i, outputLines(stdout, stderr))
}

// =============================================================================
// /whois
// =============================================================================

func (b *Bot) whoisCommand() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "whois",
		Description: "Look up registration data for a domain or IP.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "target",
				Description: "The domain or IP to look up.",
				Required:    true,
			},
		},
	}
}

// keepWhoisLine classifies one whois output line: keep it, drop it, or set
// it aside as redacted noise. Registrar privacy filler and non key-value
// lines are dropped outright.
func keepWhoisLine(line string) (keep, redact bool) {
	if strings.HasPrefix(line, ">>> Last update") {
		return false, true
	}
	if strings.Contains(line, "REDACTED") ||
		strings.Contains(line, "Please query the WHOIS server of the owning registrar") ||
		!strings.Contains(line, ":") {
		return false, false
	}
	return true, false
}

// filterWhois splits raw whois output into displayable and redacted lines.
func filterWhois(stdout, stderr string) (kept, redacted []string) {
	classify := func(raw, prefix string) {
		for _, line := range strings.Split(raw, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			keep, redact := keepWhoisLine(line)
			switch {
			case keep:
				kept = append(kept, prefix+line)
			case redact:
				redacted = append(redacted, prefix+line)
			}
		}
	}
	classify(stdout, "")
	classify(stderr, "[STDERR] ")
	return kept, redacted
}

func (b *Bot) handleWhois(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferResponse(s, i); err != nil {
		return
	}
	opts := commandOptions(i)
	target := stringOption(opts, "target", "")
	if !validTarget(target) {
		editText(s, i, ":x: Invalid target.")
		return
	}
	stdout, stderr, code, err := runCommand("whois", "-H", target)
	if err != nil {
		editText(s, i, ":x: Could not run whois: "+err.Error())
		return
	}
	kept, redacted := filterWhois(stdout, stderr)
	if len(kept) == 0 {
		editText(s, i, fmt.Sprintf("Seemingly all output was filtered (exit code %d).", code))
		return
	}
	respondPages(s, i, kept)
	if len(redacted) > 0 {
		_, _ = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
			Files: []*discordgo.File{{
				Name:        "redacted.txt",
				ContentType: "text/plain",
				Reader:      strings.NewReader(strings.Join(redacted, "\n")),
			}},
		})
	}
}

// =============================================================================
// /dig
// =============================================================================

// digResolver answers /dig queries.
const digResolver = "1.1.1.1:53"

var digTypes = map[string]uint16{
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"ANY":   dns.TypeANY,
	"CNAME": dns.TypeCNAME,
	"HINFO": dns.TypeHINFO,
	"LOC":   dns.TypeLOC,
	"MX":    dns.TypeMX,
	"NS":    dns.TypeNS,
	"PTR":   dns.TypePTR,
	"SOA":   dns.TypeSOA,
	"SRV":   dns.TypeSRV,
	"TXT":   dns.TypeTXT,
}

func (b *Bot) digCommand() *discordgo.ApplicationCommand {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(digTypes))
	for _, name := range []string{"A", "AAAA", "ANY", "CNAME", "HINFO", "LOC", "MX", "NS", "PTR", "SOA", "SRV", "TXT"} {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}
	return &discordgo.ApplicationCommand{
		Name:        "dig",
		Description: "Looks up a domain name.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "domain",
				Description: "The domain to look up.",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "type",
				Description: "The record type. Defaults to A.",
				Choices:     choices,
			},
		},
	}
}

// renderAnswers draws a record tree for the reply.
func renderAnswers(domain string, answers []dns.RR) []string {
	lines := []string{"DNS lookup for " + domain}
	for idx, rr := range answers {
		branch, stem := "├──", "│   "
		if idx == len(answers)-1 {
			branch, stem = "└──", "    "
		}
		header := rr.Header()
		lines = append(lines,
			fmt.Sprintf("%s %s record (TTL %d)", branch, dns.TypeToString[header.Rrtype], header.Ttl),
			fmt.Sprintf("%s└── %s", stem, strings.TrimSpace(strings.TrimPrefix(rr.String(), header.String()))),
		)
	}
	return lines
}

func (b *Bot) handleDig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferResponse(s, i); err != nil {
		return
	}
	opts := commandOptions(i)
	domain := stringOption(opts, "domain", "")
	if !validTarget(domain) {
		editText(s, i, ":x: Domain name cannot contain spaces.")
		return
	}
	qtype, ok := digTypes[strings.ToUpper(stringOption(opts, "type", "A"))]
	if !ok {
		qtype = dns.TypeA
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: 10 * time.Second}
	resp, rtt, err := client.Exchange(msg, digResolver)
	if err != nil {
		editText(s, i, ":x: Query failed: "+err.Error())
		return
	}
	if len(resp.Answer) == 0 {
		editText(s, i, fmt.Sprintf("No records (%s).", dns.RcodeToString[resp.Rcode]))
		return
	}
	lines := renderAnswers(domain, resp.Answer)
	lines = append(lines, "",
		fmt.Sprintf("Query time: %dms", rtt.Milliseconds()),
		"DNS server used: "+digResolver,
	)
	respondPages(s, i, lines)
}

// =============================================================================
// /traceroute
// =============================================================================

var tracerouteProtocols = map[string]string{
	"icmp":    "-I",
	"tcp":     "-T",
	"udp":     "-U",
	"udplite": "-UL",
	"dccp":    "-D",
}

func (b *Bot) tracerouteCommand() *discordgo.ApplicationCommand {
	protocolChoices := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "default", Value: "default"},
	}
	for _, name := range []string{"icmp", "tcp", "udp", "udplite", "dccp"} {
		protocolChoices = append(protocolChoices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}
	return &discordgo.ApplicationCommand{
		Name:        "traceroute",
		Description: "Performs a traceroute request.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "url",
				Description: "The hostname or IP to trace to.",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "ping-type",
				Description: "Type of probe to use. See `traceroute --help`.",
				Choices:     protocolChoices,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "ip-version",
				Description: "IP version to use.",
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "ipv4", Value: "ipv4"},
					{Name: "ipv6", Value: "ipv6"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "ttl",
				Description: "Max number of hops. Defaults to 30.",
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "port",
				Description: "Port to probe, where the protocol supports it.",
			},
		},
	}
}

// tracerouteArgs maps option values onto traceroute flags.
func tracerouteArgs(target, protocol, ipVersion string, maxTTL, port int64) []string {
	var args []string
	if flag, ok := tracerouteProtocols[protocol]; ok {
		args = append(args, flag)
	}
	if ipVersion == "ipv6" {
		args = append(args, "-6")
	} else {
		args = append(args, "-4")
	}
	args = append(args, "-m", fmt.Sprint(maxTTL))
	if port > 0 {
		args = append(args, "-p", fmt.Sprint(port))
	}
	return append(args, target)
}

func (b *Bot) handleTraceroute(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := deferResponse(s, i); err != nil {
		return
	}
	opts := commandOptions(i)
	target := stringOption(opts, "url", "")
	if !validTarget(target) {
		editText(s, i, ":x: URL cannot contain spaces.")
		return
	}
	args := tracerouteArgs(
		target,
		stringOption(opts, "ping-type", "default"),
		stringOption(opts, "ip-version", "ipv4"),
		intOption(opts, "ttl", 30),
		intOption(opts, "port", 0),
	)

	start := time.Now()
	stdout, stderr, code, err := runCommand("traceroute", args...)
	if err != nil {
		b.log.Error("traceroute failed to run", zap.Error(err))
		editText(s, i, ":x: Could not run traceroute: "+err.Error())
		return
	}
	lines := []string{"Running command: traceroute " + strings.Join(args, " "), ""}
	lines = append(lines, outputLines(stdout, stderr)...)
	lines = append(lines, "",
		fmt.Sprintf("Exit code: %d", code),
		fmt.Sprintf("Time taken: %.1fms", float64(time.Since(start))/float64(time.Millisecond)),
	)
	respondPages(s, i, lines)
}
