package evm

// EscrowABI is the view/action surface of a deployed hash-time-locked escrow.
const EscrowABI = `[
  {"type":"function","name":"orderHash","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"hashlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"token","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"amount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"depositor","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"recipient","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"secret","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"publicWithdraw","stateMutability":"nonpayable","inputs":[{"name":"secret","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"event","name":"EscrowWithdrawal","inputs":[{"name":"secret","type":"bytes32","indexed":false}],"anonymous":false},
  {"type":"event","name":"EscrowCancelled","inputs":[],"anonymous":false}
]`

// FactoryABI is the escrow factory the resolver fills orders through.
const FactoryABI = `[
  {"type":"function","name":"fillOrder","stateMutability":"payable","inputs":[
    {"name":"orderHash","type":"bytes32"},
    {"name":"maker","type":"address"},
    {"name":"token","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"hashlock","type":"bytes32"},
    {"name":"signature","type":"bytes"},
    {"name":"extension","type":"bytes"}
  ],"outputs":[{"name":"escrow","type":"address"}]},
  {"type":"function","name":"createDstEscrow","stateMutability":"payable","inputs":[
    {"name":"orderHash","type":"bytes32"},
    {"name":"token","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"hashlock","type":"bytes32"},
    {"name":"recipient","type":"address"},
    {"name":"safetyDeposit","type":"uint256"}
  ],"outputs":[{"name":"escrow","type":"address"}]},
  {"type":"event","name":"EscrowCreated","inputs":[
    {"name":"orderHash","type":"bytes32","indexed":true},
    {"name":"escrow","type":"address","indexed":false}
  ],"anonymous":false}
]`

// erc20ABI is just enough to read escrow token balances.
const erc20ABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`
