package config

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// strategySchema 是策略 JSON 导入文档的结构约束，
// 语义层面的取值校验仍由 Strategy.Validate 负责。
const strategySchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "symbol": {"type": "string"},
    "side": {"type": "string", "enum": ["long", "short"]},
    "timeframe": {"type": "string"},
    "execution_timeframe": {"type": "string"},
    "initial_balance": {"type": "number"},
    "leverage": {"type": "number"},
    "fee_rate": {"type": "number"},
    "calc_on_order_fills": {"type": "boolean"},
    "entry": {
      "type": "object",
      "properties": {
        "kind": {"type": "string", "enum": ["immediate", "percent_move"]},
        "percent": {"type": "number"},
        "lookback": {"type": "integer"}
      }
    },
    "first_order": {
      "type": "object",
      "properties": {
        "amount_fixed": {"type": "number"},
        "risk_percent": {"type": "number"},
        "amount_percent": {"type": "number"}
      }
    },
    "dca": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "max_orders": {"type": "integer"},
        "step": {
          "type": "object",
          "properties": {
            "kind": {"type": "string", "enum": ["fixed_percent", "dynamic_percent", "atr_based"]},
            "percent": {"type": "number"},
            "dynamic_multiplier": {"type": "number"},
            "atr_multiplier": {"type": "number"},
            "atr_period": {"type": "integer"}
          }
        },
        "martingale": {
          "type": "object",
          "properties": {
            "enabled": {"type": "boolean"},
            "multiplier": {"type": "number"},
            "progression": {"type": "string", "enum": ["exponential", "linear", "fibonacci"]}
          }
        }
      }
    },
    "take_profit": {"$ref": "#/$defs/exit_leg"},
    "stop_loss": {"$ref": "#/$defs/exit_leg"},
    "risk": {
      "type": "object",
      "properties": {
        "max_drawdown_percent": {"type": "number"},
        "daily_loss_limit": {"type": "number"},
        "max_open_positions": {"type": "integer"}
      }
    }
  },
  "required": ["timeframe", "initial_balance"],
  "$defs": {
    "exit_leg": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "percent": {"type": "number"},
        "trailing": {
          "type": "object",
          "properties": {
            "enabled": {"type": "boolean"},
            "activation_percent": {"type": "number"},
            "trail_percent": {"type": "number"}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func compiledStrategySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("strategy.json", strings.NewReader(strategySchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("strategy.json")
	})
	return schemaCompiled, schemaErr
}

// ParseStrategyJSON 解析策略 JSON 文档。文档可以就是策略本身，
// 也可以把策略嵌在 "strategy" 键下（导出包格式）。
func ParseStrategyJSON(data []byte) (*Strategy, error) {
	if !gjson.ValidBytes(data) {
		return nil, badField("$", "document is not valid JSON")
	}
	doc := gjson.ParseBytes(data)
	node := doc
	if nested := doc.Get("strategy"); nested.Exists() && nested.IsObject() {
		node = nested
	}
	if !node.IsObject() {
		return nil, badField("$", "strategy document must be an object")
	}

	schema, err := compiledStrategySchema()
	if err != nil {
		return nil, badField("$", "schema compile failed: %v", err)
	}
	var generic any
	if err := json.Unmarshal([]byte(node.Raw), &generic); err != nil {
		return nil, badField("$", "decode failed: %v", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, badField("$", "schema validation failed: %v", err)
	}

	var strat Strategy
	if err := json.Unmarshal([]byte(node.Raw), &strat); err != nil {
		return nil, badField("$", "decode failed: %v", err)
	}
	strat.ApplyDefaults()
	if err := strat.Validate(); err != nil {
		return nil, err
	}
	return &strat, nil
}
