package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"

	"github.com/luca-patrignani/ztp-quorum/consensus"
	"github.com/luca-patrignani/ztp-quorum/fragment"
	"github.com/luca-patrignani/ztp-quorum/ledger"
	"github.com/luca-patrignani/ztp-quorum/quorum"
	"github.com/luca-patrignani/ztp-quorum/registry"
)

func leaderRows(reg *registry.Registry, set *quorum.LeaderSet) pterm.TableData {
	rows := pterm.TableData{{"Node", "Reputation", "Degree", "Role"}}
	for _, n := range reg.Nodes() {
		role := pterm.Gray("member")
		switch {
		case set.Contains(n.ID):
			role = pterm.LightGreen("leader")
		case set.Dropped[n.ID] != nil:
			role = pterm.LightRed("dropped")
		}
		rows = append(rows, []string{
			strconv.Itoa(int(n.ID)),
			strconv.Itoa(n.Reputation()),
			strconv.Itoa(n.Degree()),
			role,
		})
	}
	return rows
}

func renderLeaders(reg *registry.Registry, set *quorum.LeaderSet) error {
	pterm.DefaultSection.Printfln("Leader set, epoch %d", set.Epoch)
	if err := pterm.DefaultTable.WithHasHeader().WithData(leaderRows(reg, set)).Render(); err != nil {
		return err
	}
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTitle(pterm.LightYellow("|CONVERGENCE|")).WithTitleTopCenter()
	pbox.Printfln("candidates %d, qualified %d, iterations %d\naverage degree %.2f, leaders %d",
		len(set.Candidates), len(set.Qualified), set.Iterations, set.AvgDegree, set.Len())
	return nil
}

func pieceRows(pieces []fragment.Piece) [][]string {
	var rows [][]string
	for _, p := range pieces {
		status := pterm.LightGreen(p.Decision.String())
		if p.Err != nil {
			status = pterm.LightRed(p.Err.Error())
		}
		rows = append(rows, []string{p.ID, string(p.Kind), nodeList(p.Placement), status})
	}
	return rows
}

func renderDistribution(d *fragment.Distribution) error {
	pterm.DefaultSection.Printfln("Placement of %s (policy %s)", d.Block, d.Policy)
	data := pterm.TableData{{"Piece", "Kind", "Holders", "Decision"}}
	data = append(data, pieceRows(d.Fragments)...)
	data = append(data, pieceRows(d.Chunks)...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

// holdingRows counts the committed key fragments and data chunks per node.
func holdingRows(reg *registry.Registry, placement *ledger.Placement) pterm.TableData {
	rows := pterm.TableData{{"Node", "Key fragments", "Data chunks"}}
	for _, id := range reg.IDs() {
		var fragments, chunks int
		// item IDs are <block>/k/... or <block>/d/...
		for _, item := range placement.NodeItems(id) {
			switch {
			case strings.Contains(item, "/k/"):
				fragments++
			case strings.Contains(item, "/d/"):
				chunks++
			}
		}
		if fragments+chunks == 0 {
			continue
		}
		rows = append(rows, []string{strconv.Itoa(int(id)), strconv.Itoa(fragments), strconv.Itoa(chunks)})
	}
	return rows
}

func renderHoldings(reg *registry.Registry, placement *ledger.Placement) error {
	pterm.DefaultSection.Printfln("Holdings over %d block(s)", len(placement.Blocks()))
	return pterm.DefaultTable.WithHasHeader().WithData(holdingRows(reg, placement)).Render()
}

func decisionBox(res *consensus.Result) string {
	var title string
	switch res.Outcome {
	case consensus.OutcomeGranted:
		title = pterm.LightGreen("|GRANTED|")
	case consensus.OutcomeDenied:
		title = pterm.LightYellow("|DENIED|")
	default:
		title = pterm.LightRed("|FAILED|")
	}
	body := pterm.Sprintfln("seeker %s on %s", pterm.LightCyan(string(res.Seeker)), res.Block)
	body += pterm.Sprintfln("rounds %d, validators %d/%d: %s", res.Rounds, len(res.Validators), res.Quorum, nodeList(res.Validators))
	if res.Delivery != nil {
		body += pterm.Sprintfln("received %d bytes, key %x...", len(res.Delivery.Data), res.Delivery.Key[:4])
	}
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	return pbox.WithTitle(title).WithTitleTopCenter().Sprint(body)
}

func renderAccessLog(records []ledger.Record) error {
	pterm.DefaultSection.Println("Access log")
	data := pterm.TableData{{"#", "Time", "Seeker", "Outcome", "Validators", "Hash"}}
	for _, r := range records {
		data = append(data, []string{
			strconv.Itoa(r.Index),
			time.Unix(0, r.Timestamp).Format(time.TimeOnly),
			string(r.Access.Seeker),
			string(r.Access.Outcome),
			nodeList(r.Access.Validators),
			r.Hash[:12],
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func renderMetrics(g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println("Metrics")
	data := pterm.TableData{{"Metric", "Labels", "Value"}}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, l := range m.GetLabel() {
				labels = append(labels, l.GetName()+"="+l.GetValue())
			}
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			}
			data = append(data, []string{mf.GetName(), strings.Join(labels, ","), strconv.FormatFloat(value, 'f', -1, 64)})
		}
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func nodeList(ids []registry.NodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(int(id))
	}
	return strings.Join(parts, " ")
}
