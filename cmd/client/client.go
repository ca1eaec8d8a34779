package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"matchcore/internal/common"
	"matchcore/internal/engine"
	matchnet "matchcore/internal/net"
	"matchcore/internal/money"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "address of the matching engine")
	accountID := flag.String("account", "", "account id (compulsory)")
	action := flag.String("action", "submit", "action to perform: submit, cancel, replace, depth")

	symbol := flag.String("symbol", "BTC-USD", "trading symbol")
	sideStr := flag.String("side", "buy", "order side: buy or sell")
	typeStr := flag.String("type", "limit", "order type: limit or market")
	tifStr := flag.String("tif", "gtc", "time in force: gtc, ioc, or fok")
	priceStr := flag.String("price", "0", "limit price")
	qtyStr := flag.String("qty", "1", "order quantity")

	orderID := flag.String("order", "", "order id, required for cancel/replace")
	newPriceStr := flag.String("new-price", "", "replace: new limit price, omit to keep the current price")
	newQtyStr := flag.String("new-qty", "", "replace: new quantity, omit to keep the current quantity")
	levels := flag.Int("levels", 5, "depth query: number of price levels per side")

	flag.Parse()

	if *accountID == "" {
		fmt.Println("error: -account is required")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("connected to %s as %s\n", *serverAddr, *accountID)

	go readReports(conn)

	switch strings.ToLower(*action) {
	case "submit":
		if err := sendSubmit(conn, *accountID, *symbol, *sideStr, *typeStr, *tifStr, *priceStr, *qtyStr); err != nil {
			log.Fatalf("submit failed: %v", err)
		}
		fmt.Println("-> submit sent")

	case "cancel":
		if *orderID == "" {
			log.Fatal("-order is required for cancel")
		}
		if err := sendCancel(conn, *symbol, *orderID); err != nil {
			log.Fatalf("cancel failed: %v", err)
		}
		fmt.Println("-> cancel sent")

	case "replace":
		if *orderID == "" {
			log.Fatal("-order is required for replace")
		}
		if err := sendReplace(conn, *symbol, *orderID, *newPriceStr, *newQtyStr); err != nil {
			log.Fatalf("replace failed: %v", err)
		}
		fmt.Println("-> replace sent")

	case "depth":
		if err := sendDepthQuery(conn, *symbol, *levels); err != nil {
			log.Fatalf("depth query failed: %v", err)
		}
		fmt.Println("-> depth query sent")

	default:
		log.Fatalf("unknown action: %s", *action)
	}

	fmt.Println("\nlistening for reports... (press ctrl+c to exit)")
	select {}
}

func parseSide(s string) common.Side {
	if strings.EqualFold(s, "sell") {
		return common.Sell
	}
	return common.Buy
}

func parseOrderType(s string) common.OrderType {
	if strings.EqualFold(s, "market") {
		return common.Market
	}
	return common.Limit
}

func parseTIF(s string) common.TimeInForce {
	switch strings.ToUpper(s) {
	case "IOC":
		return common.IOC
	case "FOK":
		return common.FOK
	default:
		return common.GTC
	}
}

func sendSubmit(conn net.Conn, accountID, symbol, sideStr, typeStr, tifStr, priceStr, qtyStr string) error {
	price, err := money.NewFromString(priceStr)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", priceStr, err)
	}
	qty, err := money.NewFromString(qtyStr)
	if err != nil {
		return fmt.Errorf("invalid quantity %q: %w", qtyStr, err)
	}

	msg := matchnet.SubmitMessage{
		ClientID:  uuid.New().String(),
		AccountID: accountID,
		Symbol:    symbol,
		Side:      parseSide(sideStr),
		Type:      parseOrderType(typeStr),
		Price:     price,
		Quantity:  qty,
		TIF:       parseTIF(tifStr),
	}
	_, err = conn.Write(msg.Encode())
	return err
}

func sendCancel(conn net.Conn, symbol, orderID string) error {
	msg := matchnet.CancelMessage{Symbol: symbol, OrderID: orderID}
	_, err := conn.Write(msg.Encode())
	return err
}

func sendReplace(conn net.Conn, symbol, orderID, newPriceStr, newQtyStr string) error {
	msg := matchnet.ReplaceMessage{Symbol: symbol, OrderID: orderID}
	if newPriceStr != "" {
		price, err := money.NewFromString(newPriceStr)
		if err != nil {
			return fmt.Errorf("invalid new price %q: %w", newPriceStr, err)
		}
		msg.HasPrice = true
		msg.NewPrice = price
	}
	if newQtyStr != "" {
		qty, err := money.NewFromString(newQtyStr)
		if err != nil {
			return fmt.Errorf("invalid new quantity %q: %w", newQtyStr, err)
		}
		msg.HasQuantity = true
		msg.NewQuantity = qty
	}
	_, err := conn.Write(msg.Encode())
	return err
}

func sendDepthQuery(conn net.Conn, symbol string, levels int) error {
	msg := matchnet.DepthQueryMessage{Symbol: symbol, Levels: uint16(levels)}
	_, err := conn.Write(msg.Encode())
	return err
}

// readReports continuously reads and prints Report frames from the server.
func readReports(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("connection lost: %v", err)
			}
			os.Exit(0)
		}

		frame := buf[:n]
		rtype, err := matchnet.PeekReportType(frame)
		if err != nil {
			log.Printf("error reading report: %v", err)
			continue
		}

		if rtype == matchnet.ReportDepth {
			depth, err := matchnet.DecodeDepthReport(frame)
			if err != nil {
				log.Printf("error decoding depth report: %v", err)
				continue
			}
			printDepth(depth)
			continue
		}

		report, err := matchnet.DecodeReport(frame)
		if err != nil {
			log.Printf("error decoding report: %v", err)
			continue
		}
		printReport(report)
	}
}

func printDepth(d engine.Depth) {
	fmt.Printf("depth %s (seq %d)\n", d.Symbol, d.Sequence)
	fmt.Println("  bids:")
	for _, lvl := range d.Bids {
		fmt.Printf("    %s x %s (%d orders)\n", lvl.Price, lvl.OpenQty, lvl.OrderCount)
	}
	fmt.Println("  asks:")
	for _, lvl := range d.Asks {
		fmt.Printf("    %s x %s (%d orders)\n", lvl.Price, lvl.OpenQty, lvl.OrderCount)
	}
}

func printReport(r matchnet.Report) {
	now := time.Now().Format("15:04:05.000")
	switch r.Type {
	case matchnet.ReportSubmitAck:
		if r.Rejected {
			fmt.Printf("[%s] submit rejected: %s\n", now, r.RejectKind)
		} else {
			fmt.Printf("[%s] submit accepted: order=%s\n", now, r.RestingID)
		}
	case matchnet.ReportCancelAck:
		if r.ErrKind != "" {
			fmt.Printf("[%s] cancel failed: %s\n", now, r.ErrKind)
		} else {
			fmt.Printf("[%s] cancel acknowledged: order=%s\n", now, r.OrderID)
		}
	case matchnet.ReportReplaceAck:
		if r.ErrKind != "" {
			fmt.Printf("[%s] replace failed: %s\n", now, r.ErrKind)
		} else if r.RestingID != "" {
			fmt.Printf("[%s] replace resubmitted as order=%s\n", now, r.RestingID)
		} else {
			fmt.Printf("[%s] replace amended in place\n", now)
		}
	case matchnet.ReportTrade:
		fmt.Printf("[%s] trade %s: %s %s @ %s x %s (maker=%s taker=%s)\n",
			now, r.TradeID, r.Symbol, r.TakerSide, r.Price, r.Quantity, r.MakerID, r.TakerID)
	case matchnet.ReportOrderState:
		fmt.Printf("[%s] order %s -> %v (filled %s)\n", now, r.OrderID, r.Status, r.Filled)
	case matchnet.ReportError:
		fmt.Printf("[%s] server error: %s\n", now, r.ErrKind)
	default:
		fmt.Printf("[%s] unrecognized report type %d\n", now, r.Type)
	}
}
