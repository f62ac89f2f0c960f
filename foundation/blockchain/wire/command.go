package wire

// Command names the kind of payload carried by a message.
type Command string

// Set of commands understood by the node. Peers may send others; the codec
// frames any printable command of up to CommandSize bytes.
const (
	CmdVersion      Command = "version"
	CmdVerAck       Command = "verack"
	CmdInv          Command = "inv"
	CmdGetData      Command = "getdata"
	CmdBlock        Command = "block"
	CmdTx           Command = "tx"
	CmdGetBlocks    Command = "getblocks"
	CmdGetHeaders   Command = "getheaders"
	CmdHeaders      Command = "headers"
	CmdPing         Command = "ping"
	CmdPong         Command = "pong"
	CmdReject       Command = "reject"
	CmdMempool      Command = "mempool"
	CmdFilterLoad   Command = "filterload"
	CmdFilterAdd    Command = "filteradd"
	CmdFilterClear  Command = "filterclear"
	CmdMerkleBlock  Command = "merkleblock"
	CmdAlert        Command = "alert"
	CmdSendHeaders  Command = "sendheaders"
	CmdFeeFilter    Command = "feefilter"
	CmdSendCmpct    Command = "sendcmpct"
	CmdCmpctBlock   Command = "cmpctblock"
	CmdGetBlockTxn  Command = "getblocktxn"
	CmdBlockTxn     Command = "blocktxn"
	CmdGetCFilters  Command = "getcfilters"
	CmdCFilter      Command = "cfilter"
	CmdGetCFHeaders Command = "getcfheaders"
	CmdCFHeaders    Command = "cfheaders"
	CmdGetCFCheckpt Command = "getcfcheckpt"
	CmdCFCheckpt    Command = "cfcheckpt"
	CmdWTxIDRelay   Command = "wtxidrelay"
)

var known = map[Command]struct{}{
	CmdVersion: {}, CmdVerAck: {}, CmdInv: {}, CmdGetData: {}, CmdBlock: {},
	CmdTx: {}, CmdGetBlocks: {}, CmdGetHeaders: {}, CmdHeaders: {}, CmdPing: {},
	CmdPong: {}, CmdReject: {}, CmdMempool: {}, CmdFilterLoad: {}, CmdFilterAdd: {},
	CmdFilterClear: {}, CmdMerkleBlock: {}, CmdAlert: {}, CmdSendHeaders: {},
	CmdFeeFilter: {}, CmdSendCmpct: {}, CmdCmpctBlock: {}, CmdGetBlockTxn: {},
	CmdBlockTxn: {}, CmdGetCFilters: {}, CmdCFilter: {}, CmdGetCFHeaders: {},
	CmdCFHeaders: {}, CmdGetCFCheckpt: {}, CmdCFCheckpt: {}, CmdWTxIDRelay: {},
}

// Known reports whether the command is one the node understands.
func (c Command) Known() bool {
	_, exists := known[c]
	return exists
}

// String implements the fmt.Stringer interface.
func (c Command) String() string {
	return string(c)
}
