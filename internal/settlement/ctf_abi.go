package settlement

// ctfABIJSON Conditional Token Framework 合约 ABI。
// merge/redeem 走这里；getPositionId 等 pure 函数链下不需要，省掉。
const ctfABIJSON = `[
	{
		"inputs": [
			{"name": "collateralToken", "type": "address"},
			{"name": "parentCollectionId", "type": "bytes32"},
			{"name": "conditionId", "type": "bytes32"},
			{"name": "partition", "type": "uint256[]"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "mergePositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "collateralToken", "type": "address"},
			{"name": "parentCollectionId", "type": "bytes32"},
			{"name": "conditionId", "type": "bytes32"},
			{"name": "indexSets", "type": "uint256[]"}
		],
		"name": "redeemPositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// negRiskABIJSON NegRiskAdapter 合约 ABI。
// negRisk 市场的 merge/redeem 必须经过适配器，签名比 CTF 短：
// 抵押品和 parentCollectionId 由适配器固定，redeem 按两侧数量而非 indexSet。
const negRiskABIJSON = `[
	{
		"inputs": [
			{"name": "_conditionId", "type": "bytes32"},
			{"name": "_amount", "type": "uint256"}
		],
		"name": "mergePositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "_conditionId", "type": "bytes32"},
			{"name": "_amounts", "type": "uint256[]"}
		],
		"name": "redeemPositions",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// erc20ABIJSON USDC 余额查询用
const erc20ABIJSON = `[
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// erc1155ABIJSON 条件代币余额查询用（tokenID 即 positionId）
const erc1155ABIJSON = `[
	{
		"inputs": [
			{"name": "account", "type": "address"},
			{"name": "id", "type": "uint256"}
		],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`
