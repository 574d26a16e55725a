package parser

// symbolAliases 喊单常见币种到交易所合约交易对的映射
func symbolAliases() map[string]string {
	return map[string]string{
		"BTC":   "BTCUSDT",
		"ETH":   "ETHUSDT",
		"BNB":   "BNBUSDT",
		"ADA":   "ADAUSDT",
		"XRP":   "XRPUSDT",
		"SOL":   "SOLUSDT",
		"DOGE":  "DOGEUSDT",
		"MATIC": "MATICUSDT",
		"AVAX":  "AVAXUSDT",
		"WLFI":  "WLFIUSDT",
		"TREE":  "TREEUSDT",
		"TA":    "TAUSDT",
		"BAKE":  "BAKEUSDT",
		"LINK":  "LINKUSDT",
		"UNI":   "UNIUSDT",
		"DOT":   "DOTUSDT",
		"ATOM":  "ATOMUSDT",
		"FTM":   "FTMUSDT",
		"ALGO":  "ALGOUSDT",
		"NEAR":  "NEARUSDT",
		"SAND":  "SANDUSDT",
		"MANA":  "MANAUSDT",
		"CRV":   "CRVUSDT",
		"COMP":  "COMPUSDT",
		"SUSHI": "SUSHIUSDT",
		"AAVE":  "AAVEUSDT",
		"GRT":   "GRTUSDT",
		"CHZ":   "CHZUSDT",
		"VET":   "VETUSDT",
		"THETA": "THETAUSDT",
		"RUNE":  "RUNEUSDT",
	}
}
