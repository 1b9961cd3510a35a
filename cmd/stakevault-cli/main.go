package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"stakevault/cmd/internal/secret"
	"stakevault/config"
	"stakevault/crypto"
)

const walletPassEnv = "STAKEVAULT_WALLET_PASS"

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via STAKEVAULT_RPC_URL or --rpc flag
var bearer = secret.NewSource(config.DefaultAuthTokenEnv, "RPC bearer token")
var walletPass = secret.NewSource(walletPassEnv, "wallet keystore passphrase")

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	switch command := args[0]; command {
	case "new-wallet":
		path := "wallet.keystore"
		if len(args) > 1 {
			path = args[1]
		}
		newWallet(path)
	case "pools":
		listPools()
	case "position":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and a pool id.")
			printUsage()
			return
		}
		showPosition(args[1], args[2])
	case "pending":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and a pool id.")
			printUsage()
			return
		}
		showPending(args[1], args[2])
	case "balance":
		if len(args) < 2 {
			fmt.Println("Error: Please provide an address.")
			printUsage()
			return
		}
		asset := ""
		if len(args) > 2 {
			asset = args[2]
		}
		showBalance(args[1], asset)
	case "deposit":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an address, a pool id and an amount.")
			printUsage()
			return
		}
		depositStake(args[1], args[2], args[3])
	case "withdraw":
		if len(args) < 4 {
			fmt.Println("Error: Please provide an address, a pool id and an amount.")
			printUsage()
			return
		}
		withdrawStake(args[1], args[2], args[3])
	case "claim":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and a pool id.")
			printUsage()
			return
		}
		claimRewards(args[1], args[2])
	case "emergency":
		if len(args) < 3 {
			fmt.Println("Error: Please provide an address and a pool id.")
			printUsage()
			return
		}
		emergencyWithdraw(args[1], args[2])
	case "events":
		after := uint64(0)
		if len(args) > 1 {
			parsed, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				fmt.Println("Error: Invalid sequence number.")
				return
			}
			after = parsed
		}
		listEvents(after)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("STAKEVAULT_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func newWallet(path string) {
	passphrase, err := walletPass.Get()
	if err != nil {
		fmt.Printf("Error reading passphrase: %v\n", err)
		return
	}
	key, created, err := crypto.EnsureKeystore(path, passphrase)
	if err != nil {
		fmt.Printf("Error opening keystore: %v\n", err)
		return
	}
	if created {
		fmt.Printf("Generated new wallet keystore at %s\n", path)
		fmt.Println("Store this file securely; the address cannot be recovered without it.")
	} else {
		fmt.Printf("Loaded wallet keystore from %s\n", path)
	}
	fmt.Printf("Wallet address: %s\n", key.PubKey().Address().String())
}

type poolInfo struct {
	ID                  uint8  `json:"id"`
	MaxCap              string `json:"maxCap"`
	WalletCap           string `json:"walletCap"`
	LockedPeriod        uint64 `json:"lockedPeriod"`
	APYBps              uint64 `json:"apyBps"`
	RewardAllocationBps uint64 `json:"rewardAllocationBps"`
	TotalStaked         string `json:"totalStaked"`
}

type positionInfo struct {
	Pool            uint8  `json:"pool"`
	Address         string `json:"address"`
	StakedAmount    string `json:"stakedAmount"`
	LastDepositTime int64  `json:"lastDepositTime"`
	LastRewardClaim int64  `json:"lastRewardClaim"`
	RewardClaimed   string `json:"rewardClaimed"`
}

func listPools() {
	var pools []poolInfo
	if err := call("stake_listPools", false, nil, &pools); err != nil {
		fmt.Printf("Error listing pools: %v\n", err)
		return
	}
	for _, pool := range pools {
		fmt.Printf("Pool %d\n", pool.ID)
		fmt.Printf("  Max Cap:     %s\n", pool.MaxCap)
		fmt.Printf("  Wallet Cap:  %s\n", pool.WalletCap)
		fmt.Printf("  Lock Period: %s\n", (time.Duration(pool.LockedPeriod) * time.Second).String())
		fmt.Printf("  APY:         %s\n", formatBps(pool.APYBps))
		fmt.Printf("  Allocation:  %s\n", formatBps(pool.RewardAllocationBps))
		fmt.Printf("  Staked:      %s\n", pool.TotalStaked)
	}
}

func showPosition(addr, poolArg string) {
	pool, err := parsePool(poolArg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	var position positionInfo
	params := map[string]interface{}{"address": addr, "pool": pool}
	if err := call("stake_getPosition", false, []interface{}{params}, &position); err != nil {
		fmt.Printf("Error fetching position: %v\n", err)
		return
	}
	fmt.Printf("Position for %s in pool %d\n", position.Address, position.Pool)
	fmt.Printf("  Staked:         %s\n", position.StakedAmount)
	fmt.Printf("  Last Deposit:   %s\n", formatUnix(position.LastDepositTime))
	fmt.Printf("  Last Claim:     %s\n", formatUnix(position.LastRewardClaim))
	fmt.Printf("  Rewards Earned: %s\n", position.RewardClaimed)
}

func showPending(addr, poolArg string) {
	pool, err := parsePool(poolArg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	var result struct {
		Pool    uint8  `json:"pool"`
		Pending string `json:"pending"`
	}
	params := map[string]interface{}{"address": addr, "pool": pool}
	if err := call("stake_pendingRewards", false, []interface{}{params}, &result); err != nil {
		fmt.Printf("Error fetching pending rewards: %v\n", err)
		return
	}
	fmt.Printf("Pending rewards in pool %d: %s\n", result.Pool, result.Pending)
}

func showBalance(addr, asset string) {
	var result struct {
		Address string `json:"address"`
		Asset   string `json:"asset"`
		Amount  string `json:"amount"`
	}
	params := map[string]interface{}{"address": addr}
	if strings.TrimSpace(asset) != "" {
		params["asset"] = asset
	}
	if err := call("stake_balanceOf", false, []interface{}{params}, &result); err != nil {
		fmt.Printf("Error fetching balance: %v\n", err)
		return
	}
	fmt.Printf("Balance for %s\n", result.Address)
	fmt.Printf("  %s: %s\n", result.Asset, result.Amount)
}

func depositStake(addr, poolArg, amount string) {
	pool, err := parsePool(poolArg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	var position positionInfo
	params := map[string]interface{}{"caller": addr, "pool": pool, "amount": amount}
	if err := call("stake_deposit", true, []interface{}{params}, &position); err != nil {
		fmt.Printf("Error depositing: %v\n", err)
		return
	}
	fmt.Printf("Deposited into pool %d. Staked balance: %s\n", position.Pool, position.StakedAmount)
}

func withdrawStake(addr, poolArg, amount string) {
	pool, err := parsePool(poolArg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	var result struct {
		Pool   uint8  `json:"pool"`
		Amount string `json:"amount"`
		Fee    string `json:"fee"`
		Payout string `json:"payout"`
	}
	params := map[string]interface{}{"caller": addr, "pool": pool, "amount": amount}
	if err := call("stake_withdraw", true, []interface{}{params}, &result); err != nil {
		fmt.Printf("Error withdrawing: %v\n", err)
		return
	}
	fmt.Printf("Withdrew %s from pool %d (fee %s, payout %s)\n", result.Amount, result.Pool, result.Fee, result.Payout)
}

func claimRewards(addr, poolArg string) {
	pool, err := parsePool(poolArg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	var result struct {
		Pool   uint8  `json:"pool"`
		Reward string `json:"reward"`
	}
	params := map[string]interface{}{"caller": addr, "pool": pool}
	if err := call("stake_claimReward", true, []interface{}{params}, &result); err != nil {
		fmt.Printf("Error claiming rewards: %v\n", err)
		return
	}
	fmt.Printf("Claimed %s from pool %d\n", result.Reward, result.Pool)
}

func emergencyWithdraw(addr, poolArg string) {
	pool, err := parsePool(poolArg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	var result struct {
		Pool     uint8  `json:"pool"`
		Returned string `json:"returned"`
		Penalty  string `json:"penalty"`
	}
	params := map[string]interface{}{"caller": addr, "pool": pool}
	if err := call("stake_emergencyWithdraw", true, []interface{}{params}, &result); err != nil {
		fmt.Printf("Error on emergency withdraw: %v\n", err)
		return
	}
	fmt.Printf("Emergency withdrew %s from pool %d (penalty %s)\n", result.Returned, result.Pool, result.Penalty)
}

func listEvents(after uint64) {
	var result struct {
		Entries []struct {
			Sequence   uint64            `json:"sequence"`
			Type       string            `json:"type"`
			Attributes map[string]string `json:"attributes"`
			CreatedAt  int64             `json:"createdAt"`
		} `json:"entries"`
		NewestSequence uint64 `json:"newestSequence"`
	}
	params := map[string]interface{}{"after": after}
	if err := call("stake_events", false, []interface{}{params}, &result); err != nil {
		fmt.Printf("Error fetching events: %v\n", err)
		return
	}
	for _, entry := range result.Entries {
		fmt.Printf("#%d %s %s\n", entry.Sequence, formatUnix(entry.CreatedAt), entry.Type)
		for key, value := range entry.Attributes {
			fmt.Printf("    %s=%s\n", key, value)
		}
	}
	fmt.Printf("Newest sequence: %d\n", result.NewestSequence)
}

func call(method string, requireAuth bool, params []interface{}, result interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if requireAuth {
		value, err := bearer.Get()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(value))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode response from server")
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("error from server: %s", rpcResp.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

func parsePool(arg string) (uint8, error) {
	pool, err := strconv.ParseUint(strings.TrimSpace(arg), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid pool id %q", arg)
	}
	return uint8(pool), nil
}

func formatBps(bps uint64) string {
	return fmt.Sprintf("%d.%02d%%", bps/100, bps%100)
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "never"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func printUsage() {
	fmt.Println("Usage: stakevault-cli <command> [arguments]")
	fmt.Println()
	fmt.Println("Staking commands need the RPC bearer token; set " + config.DefaultAuthTokenEnv + " or enter it when prompted.")
	fmt.Println("Commands:")
	fmt.Println("  new-wallet [path]                    - Creates or opens a wallet keystore (default wallet.keystore)")
	fmt.Println("  pools                                - Lists every pool's configuration")
	fmt.Println("  position <address> <pool>            - Shows a wallet's position in a pool")
	fmt.Println("  pending <address> <pool>             - Shows unclaimed rewards for a position")
	fmt.Println("  balance <address> [asset]            - Shows an asset balance")
	fmt.Println("  deposit <address> <pool> <amount>    - Stakes an amount into a pool")
	fmt.Println("  withdraw <address> <pool> <amount>   - Withdraws a staked amount")
	fmt.Println("  claim <address> <pool>               - Claims accrued rewards")
	fmt.Println("  emergency <address> <pool>           - Exits a position early, paying the penalty")
	fmt.Println("  events [after]                       - Prints journal entries after a sequence")
	fmt.Println("  --rpc <url>                          - Overrides the RPC endpoint")
}
