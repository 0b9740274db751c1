package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	eventName   = "SosTriggered"
	counterName = "sosCounter"
)

const contractABI = `[
  {
    "anonymous": false,
    "type": "event",
    "name": "SosTriggered",
    "inputs": [
      {"indexed": true,  "name": "sosId",             "type": "uint256"},
      {"indexed": true,  "name": "tourist",           "type": "address"},
      {"indexed": false, "name": "initialReportHash", "type": "bytes32"},
      {"indexed": false, "name": "timestamp",         "type": "uint256"}
    ]
  },
  {
    "type": "function",
    "name": "sosCounter",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{"name": "", "type": "uint256"}]
  }
]`

// ParsedABI is the subset of the incident contract the verifier reads.
var ParsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		panic("ledger: invalid contract ABI: " + err.Error())
	}
	return parsed
}
